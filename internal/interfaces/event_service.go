package interfaces

// Event is a pipeline progress notification
type Event struct {
	Type     string                 `json:"type"`
	CourseID string                 `json:"course_id,omitempty"`
	LessonID string                 `json:"lesson_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// EventService - publish-only notification sink. The production UI consumes
// these over its own transport; the pipeline only emits.
type EventService interface {
	Publish(event Event)
}

// NopEventService discards all events
type NopEventService struct{}

// Publish implements EventService
func (NopEventService) Publish(Event) {}
