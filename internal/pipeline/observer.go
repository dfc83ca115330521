package pipeline

import (
	"context"
	"time"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// Observation is one sampled (status, progress) pair
type Observation struct {
	Status   models.GenerationStatus
	Progress int
	At       time.Time
}

// WaitForStatus polls the course until its status is a member of targets,
// the course fails, or the context expires. Returns the trail of distinct
// observations for reporting.
func WaitForStatus(ctx context.Context, courses interfaces.CourseStorage, courseID string, interval time.Duration, targets ...models.GenerationStatus) ([]Observation, error) {
	if interval <= 0 {
		interval = time.Second
	}
	targetSet := make(map[models.GenerationStatus]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	var trail []Observation
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		course, err := courses.GetCourse(ctx, courseID)
		if err != nil {
			return trail, err
		}

		if len(trail) == 0 || trail[len(trail)-1].Status != course.GenerationStatus {
			trail = append(trail, Observation{
				Status:   course.GenerationStatus,
				Progress: course.GenerationProgress,
				At:       time.Now(),
			})
		}

		if course.GenerationStatus == models.GenerationStatusFailed {
			msg := "course generation failed"
			if course.GenerationMetadata != nil && course.GenerationMetadata.ErrorMessage != "" {
				msg = course.GenerationMetadata.ErrorMessage
			}
			return trail, Errorf(KindUpstreamError, "%s", msg)
		}
		if targetSet[course.GenerationStatus] {
			return trail, nil
		}

		select {
		case <-ctx.Done():
			return trail, NewError(KindTimeout, "timed out waiting for course status", ctx.Err())
		case <-ticker.C:
		}
	}
}
