package models

import "testing"

func TestGenerationStatusTransitions(t *testing.T) {
	// Every non-terminal state permits exactly its successor and the failed sink
	for s := GenerationStatusPending; !s.IsTerminal(); {
		next, ok := s.Successor()
		if !ok {
			t.Fatalf("Non-terminal state %s has no successor", s)
		}
		if !s.CanTransitionTo(next) {
			t.Errorf("%s must permit %s", s, next)
		}
		if !s.CanTransitionTo(GenerationStatusFailed) {
			t.Errorf("%s must permit failed", s)
		}
		if skip, ok := next.Successor(); ok && s.CanTransitionTo(skip) {
			t.Errorf("%s must not permit skipping to %s", s, skip)
		}
		s = next
	}

	if GenerationStatusCompleted.CanTransitionTo(GenerationStatusFailed) {
		t.Error("Completed must not transition to failed")
	}
	if GenerationStatusFailed.CanTransitionTo(GenerationStatusPending) {
		t.Error("Failed is an absorbing sink")
	}
}

func TestGenerationProgressMonotone(t *testing.T) {
	prev := -1
	for s, ok := GenerationStatusPending, true; ok; s, ok = s.Successor() {
		p := s.Progress()
		if p <= prev {
			t.Errorf("Progress of %s (%d) must exceed %d", s, p, prev)
		}
		prev = p
	}
	if prev != 100 {
		t.Errorf("Expected completed at 100, got %d", prev)
	}
}

func TestCourseStructureValidate(t *testing.T) {
	valid := &CourseStructure{Sections: []StructureSection{{
		Title:      "Basics",
		OrderIndex: 1,
		Lessons: []StructureLesson{
			{Title: "One", OrderIndex: 1},
			{Title: "Two", OrderIndex: 2},
		},
	}}}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid structure rejected: %v", err)
	}
	if valid.LessonCount() != 2 {
		t.Errorf("Expected 2 lessons, got %d", valid.LessonCount())
	}

	empty := &CourseStructure{}
	if err := empty.Validate(); err == nil {
		t.Error("Empty structure must be rejected")
	}

	duplicate := &CourseStructure{Sections: []StructureSection{{
		Title:      "Basics",
		OrderIndex: 1,
		Lessons: []StructureLesson{
			{Title: "One", OrderIndex: 1},
			{Title: "Two", OrderIndex: 1},
		},
	}}}
	if err := duplicate.Validate(); err == nil {
		t.Error("Duplicate lesson order_index must be rejected")
	}
}
