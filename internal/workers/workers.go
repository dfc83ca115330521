// Stage workers for the course generation pipeline. Each worker consumes one
// job type from the queue, performs its stage against the metadata store and
// enqueues the successor jobs. Handlers are idempotent: duplicate delivery of
// any job converges on the same stored state.

package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/lessongraph"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
	"github.com/ternarybob/doceo/internal/queue"
	"github.com/ternarybob/doceo/internal/services/metrics"
	"github.com/ternarybob/doceo/internal/services/rag"
)

// Deps bundles everything the stage workers share. Assembled once at app
// start; workers hold no state of their own.
type Deps struct {
	Storage    interfaces.StorageManager
	Queue      interfaces.QueueService
	Status     *pipeline.StatusManager
	LLM        interfaces.CompletionService
	Embeddings interfaces.EmbeddingService
	Parser     interfaces.ParserService
	Splitter   interfaces.SplitterService
	RAG        *rag.Builder
	Graph      *lessongraph.Graph
	Ledger     *metrics.Ledger
	Config     *common.Config
	Logger     arbor.ILogger
}

// RegisterAll wires every stage handler into the worker pool
func RegisterAll(pool *queue.WorkerPool, d *Deps) {
	deadline := common.Duration(d.Config.Pipeline.JobDeadline, 10*time.Minute)

	register := func(jobType models.JobType, handler queue.JobHandler) {
		pool.RegisterHandler(jobType, withDeadline(deadline, handler))
	}
	register(models.JobTypeDocumentUpload, NewUploadWorker(d).Handle)
	register(models.JobTypeDocumentProcessing, NewProcessWorker(d).Handle)
	register(models.JobTypeSummarization, NewSummarizeWorker(d).Handle)
	register(models.JobTypeStructureAnalysis, NewAnalyzeWorker(d).Handle)
	register(models.JobTypeStructureGeneration, NewStructureWorker(d).Handle)
	register(models.JobTypeLessonContent, NewLessonWorker(d).Handle)
}

// withDeadline enforces the soft per-job deadline. Handlers see the expiry as
// context cancellation at their next suspension point, surfaced as TIMEOUT.
func withDeadline(d time.Duration, handler queue.JobHandler) queue.JobHandler {
	return func(ctx context.Context, res *interfaces.Reservation) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, res)
	}
}

// decode unmarshals a job payload into its typed form
func decode(res *interfaces.Reservation, v interface{}) error {
	if err := json.Unmarshal(res.Payload, v); err != nil {
		return pipeline.NewError(pipeline.KindValidationError, "malformed job payload", err)
	}
	return nil
}

// pastStage reports whether the course has already moved beyond the given
// stage entry state. Progress percentages are monotone over the linear order,
// so a simple comparison suffices; failed courses are never "past" anything.
func pastStage(course *models.Course, stage models.GenerationStatus) bool {
	if course == nil || course.GenerationStatus == models.GenerationStatusFailed {
		return false
	}
	return course.GenerationStatus.Progress() > stage.Progress()
}

// guardStage wraps StatusManager.Guard with the idempotency convention: a
// state conflict on a course already past the stage means an earlier delivery
// did the work, so the handler reports success by returning (nil, nil).
func guardStage(ctx context.Context, d *Deps, courseID string, entry models.GenerationStatus, allowed ...models.GenerationStatus) (*models.Course, error) {
	course, err := d.Status.Guard(ctx, courseID, allowed...)
	if err != nil {
		if pipeline.KindOf(err) == pipeline.KindStateConflict && pastStage(course, entry) {
			d.Logger.Debug().
				Str("course_id", common.ShortID(courseID)).
				Str("status", string(course.GenerationStatus)).
				Msg("Stage already applied, skipping")
			return nil, nil
		}
		return nil, err
	}
	return course, nil
}

// stageFailure applies the stage-level failure policy: fatal errors drive the
// course to failed and consume the job; retryable errors go back to the queue.
func stageFailure(ctx context.Context, d *Deps, courseID, stage string, err error) error {
	if pipeline.Fatal(err) {
		if markErr := d.Status.MarkFailed(ctx, courseID, stage, err); markErr != nil {
			d.Logger.Warn().Err(markErr).
				Str("course_id", common.ShortID(courseID)).
				Msg("Could not mark course failed")
			return err
		}
		return nil
	}
	return err
}

// timeStage records stage wall time on the cost ledger
func timeStage(d *Deps, courseID, stage string, started time.Time) {
	d.Ledger.RecordStage(courseID, stage, time.Since(started))
}
