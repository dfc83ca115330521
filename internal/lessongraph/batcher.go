// Batcher: groups section refinement tasks into batches safe for parallel
// execution. Adjacent sections share markdown boundaries, so two executors
// touching neighbouring sections can corrupt the seam between them. Every
// pair inside a batch keeps a section-index gap strictly greater than the
// configured adjacency gap.

package lessongraph

import (
	"sort"

	"github.com/ternarybob/doceo/internal/models"
)

// BuildBatches orders tasks by priority (critical > major > minor, then by
// section index for determinism) and places each greedily into the earliest
// batch that respects both the size cap and the adjacency constraint.
func BuildBatches(tasks []*models.SectionRefinementTask, maxConcurrent, adjacentGap int) [][]*models.SectionRefinementTask {
	if len(tasks) == 0 {
		return nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	ordered := append([]*models.SectionRefinementTask(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority.Rank() != ordered[j].Priority.Rank() {
			return ordered[i].Priority.Rank() > ordered[j].Priority.Rank()
		}
		return sectionIndex(ordered[i].SectionID) < sectionIndex(ordered[j].SectionID)
	})

	var batches [][]*models.SectionRefinementTask
	for _, task := range ordered {
		placed := false
		for i := range batches {
			if len(batches[i]) < maxConcurrent && batchAccepts(batches[i], task, adjacentGap) {
				batches[i] = append(batches[i], task)
				placed = true
				break
			}
		}
		if !placed {
			batches = append(batches, []*models.SectionRefinementTask{task})
		}
	}
	return batches
}

// batchAccepts checks the pairwise adjacency constraint against every task
// already in the batch
func batchAccepts(batch []*models.SectionRefinementTask, task *models.SectionRefinementTask, gap int) bool {
	idx := sectionIndex(task.SectionID)
	for _, member := range batch {
		diff := idx - sectionIndex(member.SectionID)
		if diff < 0 {
			diff = -diff
		}
		if diff <= gap {
			return false
		}
	}
	return true
}
