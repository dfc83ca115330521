package lessongraph

import (
	"fmt"
	"testing"

	"github.com/ternarybob/doceo/internal/models"
)

func numberedTasks(priority models.Severity, indices ...int) []*models.SectionRefinementTask {
	tasks := make([]*models.SectionRefinementTask, len(indices))
	for i, idx := range indices {
		tasks[i] = &models.SectionRefinementTask{
			SectionID: fmt.Sprintf("sec_%d", idx),
			Priority:  priority,
		}
	}
	return tasks
}

func assertAdjacency(t *testing.T, batches [][]*models.SectionRefinementTask, gap int) {
	t.Helper()
	for bi, batch := range batches {
		for i := 0; i < len(batch); i++ {
			for j := i + 1; j < len(batch); j++ {
				a := sectionIndex(batch[i].SectionID)
				b := sectionIndex(batch[j].SectionID)
				diff := a - b
				if diff < 0 {
					diff = -diff
				}
				if diff <= gap {
					t.Errorf("Batch %d violates adjacency: %s and %s (gap %d)",
						bi, batch[i].SectionID, batch[j].SectionID, gap)
				}
			}
		}
	}
}

func TestBatcherFiveSections(t *testing.T) {
	tasks := numberedTasks(models.SeverityMajor, 0, 1, 2, 3, 4)
	batches := BuildBatches(tasks, 3, 1)

	if len(batches) != 2 {
		t.Fatalf("Expected exactly 2 batches, got %d", len(batches))
	}
	assertAdjacency(t, batches, 1)

	seen := make(map[string]int)
	for _, batch := range batches {
		if len(batch) > 3 {
			t.Errorf("Batch exceeds concurrency cap: %d", len(batch))
		}
		for _, task := range batch {
			seen[task.SectionID]++
		}
	}
	for _, task := range tasks {
		if seen[task.SectionID] != 1 {
			t.Errorf("Task %s appears %d times", task.SectionID, seen[task.SectionID])
		}
	}
}

func TestBatcherAllAdjacent(t *testing.T) {
	tasks := numberedTasks(models.SeverityMajor, 3, 4, 5)
	batches := BuildBatches(tasks, 3, 1)

	if len(batches) != len(tasks) {
		t.Fatalf("Pairwise-adjacent tasks must each get their own batch, got %d batches", len(batches))
	}
	assertAdjacency(t, batches, 1)
}

func TestBatcherPriorityOrdering(t *testing.T) {
	tasks := []*models.SectionRefinementTask{
		{SectionID: "sec_0", Priority: models.SeverityMinor},
		{SectionID: "sec_4", Priority: models.SeverityCritical},
		{SectionID: "sec_2", Priority: models.SeverityMajor},
	}
	batches := BuildBatches(tasks, 3, 1)

	if len(batches) == 0 || batches[0][0].SectionID != "sec_4" {
		t.Fatal("Critical task must be placed first")
	}
	assertAdjacency(t, batches, 1)
}

func TestBatcherRespectsConcurrencyCap(t *testing.T) {
	tasks := numberedTasks(models.SeverityMajor, 0, 2, 4, 6, 8, 10)
	batches := BuildBatches(tasks, 3, 1)

	if len(batches) != 2 {
		t.Fatalf("Six spread tasks at cap 3 should fill 2 batches, got %d", len(batches))
	}
	for _, batch := range batches {
		if len(batch) != 3 {
			t.Errorf("Expected full batches of 3, got %d", len(batch))
		}
	}
	assertAdjacency(t, batches, 1)
}

func TestBatcherWiderGap(t *testing.T) {
	tasks := numberedTasks(models.SeverityMajor, 0, 2, 4)
	batches := BuildBatches(tasks, 3, 2)

	assertAdjacency(t, batches, 2)
	if len(batches) != 3 {
		t.Errorf("Gap 2 forces singleton batches for indices 0,2,4, got %d batches", len(batches))
	}
}

func TestBatcherNamedSections(t *testing.T) {
	tasks := []*models.SectionRefinementTask{
		{SectionID: "sec_introduction", Priority: models.SeverityMajor},
		{SectionID: "sec_conclusion", Priority: models.SeverityMajor},
		{SectionID: "sec_1", Priority: models.SeverityMajor},
	}
	batches := BuildBatches(tasks, 3, 1)
	assertAdjacency(t, batches, 1)

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	if total != 3 {
		t.Errorf("Every task must be placed, got %d", total)
	}
}

func TestBatcherEmptyInput(t *testing.T) {
	if batches := BuildBatches(nil, 3, 1); batches != nil {
		t.Errorf("Expected nil for empty input, got %v", batches)
	}
}
