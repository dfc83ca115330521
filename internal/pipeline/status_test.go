package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// fakeCourses applies the FSM edge rule the way the badger store does
type fakeCourses struct {
	courses map[string]*models.Course
}

func newFakeCourses(ids ...string) *fakeCourses {
	f := &fakeCourses{courses: make(map[string]*models.Course)}
	for _, id := range ids {
		f.courses[id] = &models.Course{
			ID:               id,
			GenerationStatus: models.GenerationStatusPending,
		}
	}
	return f
}

func (f *fakeCourses) SaveCourse(ctx context.Context, course *models.Course) error {
	f.courses[course.ID] = course
	return nil
}

func (f *fakeCourses) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	course, ok := f.courses[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *course
	return &copied, nil
}

func (f *fakeCourses) UpdateGenerationState(ctx context.Context, courseID string, status models.GenerationStatus, meta *models.GenerationMetadata) error {
	course, ok := f.courses[courseID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if !course.GenerationStatus.CanTransitionTo(status) {
		return interfaces.ErrIllegalTransition
	}
	course.GenerationStatus = status
	course.GenerationProgress = status.Progress()
	course.GenerationMetadata = meta
	return nil
}

func (f *fakeCourses) SetAnalysisResult(ctx context.Context, courseID string, result *models.AnalysisResult) error {
	return nil
}

func (f *fakeCourses) SetCourseStructure(ctx context.Context, courseID string, structure *models.CourseStructure) error {
	return nil
}

func (f *fakeCourses) ListCoursesByStatus(ctx context.Context, status models.GenerationStatus) ([]*models.Course, error) {
	return nil, nil
}

// fakeQueue records discards; everything else is unused by the status manager
type fakeQueue struct {
	interfaces.QueueService
	discarded []string
}

func (f *fakeQueue) DiscardByCourse(ctx context.Context, courseID string) (int, error) {
	f.discarded = append(f.discarded, courseID)
	return 2, nil
}

// recordingEvents captures published events
type recordingEvents struct {
	events []interfaces.Event
}

func (r *recordingEvents) Publish(event interfaces.Event) {
	r.events = append(r.events, event)
}

func TestAdvanceWalksTheLinearOrder(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	ctx := context.Background()

	order := []models.GenerationStatus{
		models.GenerationStatusUploading,
		models.GenerationStatusParsing,
		models.GenerationStatusSummarizing,
		models.GenerationStatusAnalyzing,
		models.GenerationStatusStructuring,
		models.GenerationStatusGeneratingLessons,
		models.GenerationStatusCompleted,
	}
	prev := 0
	for _, status := range order {
		if err := m.Advance(ctx, "c1", status); err != nil {
			t.Fatalf("Advance to %s: %v", status, err)
		}
		course, _ := courses.GetCourse(ctx, "c1")
		if course.GenerationProgress <= prev {
			t.Errorf("Progress must increase monotonically: %d after %d", course.GenerationProgress, prev)
		}
		prev = course.GenerationProgress
	}
	if prev != 100 {
		t.Errorf("Expected final progress 100, got %d", prev)
	}
}

func TestAdvanceSkippingStatesIsRejected(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())

	err := m.Advance(context.Background(), "c1", models.GenerationStatusParsing)
	if err == nil {
		t.Fatal("Expected rejection when skipping uploading")
	}
	if KindOf(err) != KindStateConflict {
		t.Errorf("Expected STATE_CONFLICT, got %s", KindOf(err))
	}
}

func TestAdvanceAlreadyAppliedIsSuccess(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	ctx := context.Background()

	if err := m.Advance(ctx, "c1", models.GenerationStatusUploading); err != nil {
		t.Fatal(err)
	}
	// Duplicate delivery of the same transition
	if err := m.Advance(ctx, "c1", models.GenerationStatusUploading); err != nil {
		t.Errorf("Re-applying a reached transition must succeed, got %v", err)
	}
	// A later delivery arriving after the course moved further ahead
	if err := m.Advance(ctx, "c1", models.GenerationStatusParsing); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(ctx, "c1", models.GenerationStatusUploading); err != nil {
		t.Errorf("Advancing to an already-passed state must succeed, got %v", err)
	}
}

func TestMarkFailedRecordsErrorAndDiscardsJobs(t *testing.T) {
	courses := newFakeCourses("c1")
	q := &fakeQueue{}
	m := NewStatusManager(courses, q, arbor.NewLogger())
	ctx := context.Background()

	cause := Errorf(KindUpstreamError, "model rejected the request")
	if err := m.MarkFailed(ctx, "c1", "analysis", cause); err != nil {
		t.Fatal(err)
	}

	course, _ := courses.GetCourse(ctx, "c1")
	if course.GenerationStatus != models.GenerationStatusFailed {
		t.Errorf("Expected failed, got %s", course.GenerationStatus)
	}
	if course.GenerationMetadata == nil || course.GenerationMetadata.FailedStage != "analysis" {
		t.Errorf("Expected failed stage recorded: %+v", course.GenerationMetadata)
	}
	if len(q.discarded) != 1 || q.discarded[0] != "c1" {
		t.Errorf("Expected course jobs discarded, got %v", q.discarded)
	}
}

func TestGuardStates(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	ctx := context.Background()

	if _, err := m.Guard(ctx, "c1", models.GenerationStatusPending, models.GenerationStatusUploading); err != nil {
		t.Errorf("Pending course must pass a guard allowing pending: %v", err)
	}
	if _, err := m.Guard(ctx, "c1", models.GenerationStatusParsing); err == nil {
		t.Error("Pending course must fail a guard requiring parsing")
	} else if KindOf(err) != KindStateConflict {
		t.Errorf("Expected STATE_CONFLICT, got %s", KindOf(err))
	}

	m.MarkFailed(ctx, "c1", "upload", Errorf(KindValidationError, "bad file"))
	if _, err := m.Guard(ctx, "c1", models.GenerationStatusPending); err == nil {
		t.Error("Failed course must fail every guard")
	}
}

func TestStatusEventsPublished(t *testing.T) {
	courses := newFakeCourses("c1", "c2")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	sink := &recordingEvents{}
	m.SetEvents(sink)
	ctx := context.Background()

	m.Advance(ctx, "c1", models.GenerationStatusUploading)
	m.MarkFailed(ctx, "c2", "upload", Errorf(KindValidationError, "bad file"))

	if len(sink.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(sink.events))
	}
	if sink.events[0].Type != "course.status" || sink.events[0].CourseID != "c1" {
		t.Errorf("Unexpected first event: %+v", sink.events[0])
	}
	if sink.events[1].Type != "course.failed" || sink.events[1].CourseID != "c2" {
		t.Errorf("Unexpected second event: %+v", sink.events[1])
	}
}

func TestWaitForStatusReturnsTrail(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for _, status := range []models.GenerationStatus{
			models.GenerationStatusUploading,
			models.GenerationStatusParsing,
		} {
			time.Sleep(20 * time.Millisecond)
			m.Advance(ctx, "c1", status)
		}
	}()

	trail, err := WaitForStatus(ctx, courses, "c1", 10*time.Millisecond, models.GenerationStatusParsing)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) < 2 {
		t.Fatalf("Expected at least 2 observations, got %d", len(trail))
	}
	last := trail[len(trail)-1]
	if last.Status != models.GenerationStatusParsing {
		t.Errorf("Expected trail to end at parsing, got %s", last.Status)
	}
}

func TestWaitForStatusFailedCourse(t *testing.T) {
	courses := newFakeCourses("c1")
	m := NewStatusManager(courses, nil, arbor.NewLogger())
	ctx := context.Background()

	m.MarkFailed(ctx, "c1", "upload", Errorf(KindValidationError, "unsupported mime type"))

	_, err := WaitForStatus(ctx, courses, "c1", 10*time.Millisecond, models.GenerationStatusCompleted)
	if err == nil {
		t.Fatal("Expected error for failed course")
	}
	if KindOf(err) != KindUpstreamError {
		t.Errorf("Expected UPSTREAM_ERROR, got %s", KindOf(err))
	}
}
