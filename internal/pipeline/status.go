// Course state machine. Transitions are requested by stage workers and
// applied through the course storage, which rejects moves the current stored
// state does not permit. The FSM acts as the concurrency lock: a transition
// that is only legal from the predecessor state can be applied exactly once.

package pipeline

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// StatusManager applies FSM transitions and the failure policy for courses
type StatusManager struct {
	courses interfaces.CourseStorage
	queue   interfaces.QueueService
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewStatusManager creates a status manager
func NewStatusManager(courses interfaces.CourseStorage, queue interfaces.QueueService, logger arbor.ILogger) *StatusManager {
	return &StatusManager{
		courses: courses,
		queue:   queue,
		events:  interfaces.NopEventService{},
		logger:  logger,
	}
}

// SetEvents installs a notification sink for status transitions
func (m *StatusManager) SetEvents(events interfaces.EventService) {
	if events != nil {
		m.events = events
	}
}

// Advance moves the course to the given status. A STATE_CONFLICT where the
// course is already at (or past) the requested status is treated as success:
// the transition was applied by an earlier delivery of the same job.
func (m *StatusManager) Advance(ctx context.Context, courseID string, status models.GenerationStatus) error {
	err := m.courses.UpdateGenerationState(ctx, courseID, status, &models.GenerationMetadata{
		LastTransition: time.Now(),
	})
	if err == nil {
		m.logger.Info().
			Str("course_id", m.short(courseID)).
			Str("status", string(status)).
			Int("progress", status.Progress()).
			Msg("Course advanced")
		m.events.Publish(interfaces.Event{
			Type:     "course.status",
			CourseID: courseID,
			Data: map[string]interface{}{
				"status":   string(status),
				"progress": status.Progress(),
			},
		})
		return nil
	}

	course, getErr := m.courses.GetCourse(ctx, courseID)
	if getErr == nil && reached(course.GenerationStatus, status) {
		m.logger.Debug().
			Str("course_id", m.short(courseID)).
			Str("status", string(status)).
			Msg("Transition already applied, treating as success")
		return nil
	}
	return NewError(KindStateConflict, "cannot advance course to "+string(status), err)
}

// MarkFailed drives the course to the failed sink, records the error message
// and discards the course's remaining queued jobs
func (m *StatusManager) MarkFailed(ctx context.Context, courseID, stage string, cause error) error {
	meta := &models.GenerationMetadata{
		ErrorMessage:   UserMessage(cause),
		FailedStage:    stage,
		LastTransition: time.Now(),
	}
	if err := m.courses.UpdateGenerationState(ctx, courseID, models.GenerationStatusFailed, meta); err != nil {
		return err
	}
	m.logger.Warn().
		Str("course_id", m.short(courseID)).
		Str("stage", stage).
		Str("error", meta.ErrorMessage).
		Msg("Course failed")
	m.events.Publish(interfaces.Event{
		Type:     "course.failed",
		CourseID: courseID,
		Data: map[string]interface{}{
			"stage": stage,
			"error": meta.ErrorMessage,
		},
	})

	if m.queue != nil {
		if n, err := m.queue.DiscardByCourse(ctx, courseID); err != nil {
			m.logger.Warn().Err(err).Str("course_id", m.short(courseID)).Msg("Failed to discard pending jobs")
		} else if n > 0 {
			m.logger.Debug().Int("discarded", n).Str("course_id", m.short(courseID)).Msg("Discarded pending jobs for failed course")
		}
	}
	return nil
}

// Guard verifies that the course's current state permits a stage to run.
// Stages are permitted from their own entry state (first run) and from the
// predecessor state (transition not yet applied). Running against a course
// already past the stage returns STATE_CONFLICT, which handlers treat as
// already-done.
func (m *StatusManager) Guard(ctx context.Context, courseID string, allowed ...models.GenerationStatus) (*models.Course, error) {
	course, err := m.courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.GenerationStatus == models.GenerationStatusFailed {
		return nil, Errorf(KindStateConflict, "course %s is failed", courseID)
	}
	for _, s := range allowed {
		if course.GenerationStatus == s {
			return course, nil
		}
	}
	return course, Errorf(KindStateConflict, "course %s is %s, stage requires one of %v",
		courseID, course.GenerationStatus, allowed)
}

func (m *StatusManager) short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// reached reports whether current is at or beyond target in the linear order
func reached(current, target models.GenerationStatus) bool {
	if current == target {
		return true
	}
	if current == models.GenerationStatusFailed {
		return false
	}
	for s := target; ; {
		next, ok := s.Successor()
		if !ok {
			return false
		}
		if next == current {
			return true
		}
		s = next
	}
}
