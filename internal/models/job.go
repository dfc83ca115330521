// Queue job - immutable job structure for queue persistence

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies a pipeline stage job. Wire names are stable across versions.
type JobType string

const (
	JobTypeDocumentUpload      JobType = "DOCUMENT_UPLOAD"
	JobTypeDocumentProcessing  JobType = "DOCUMENT_PROCESSING"
	JobTypeSummarization       JobType = "SUMMARIZATION"
	JobTypeStructureAnalysis   JobType = "STRUCTURE_ANALYSIS"
	JobTypeStructureGeneration JobType = "STRUCTURE_GENERATION"
	JobTypeLessonContent       JobType = "LESSON_CONTENT"
)

// JobStatus represents the queue-side state of a job
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusPaused    JobStatus = "paused"
)

// DefaultPriority is the priority used for stage-dispatch jobs
const DefaultPriority = 10

// JobEnvelope is the self-describing payload wrapper common to all job types
type JobEnvelope struct {
	JobType        JobType   `json:"jobType"`
	OrganizationID string    `json:"organizationId"`
	CourseID       string    `json:"courseId"`
	UserID         string    `json:"userId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UploadPayload is the DOCUMENT_UPLOAD job payload
type UploadPayload struct {
	JobEnvelope
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	SizeBytes   int64  `json:"sizeBytes"`
	FileContent []byte `json:"fileContent"`
}

// ProcessPayload is the DOCUMENT_PROCESSING job payload
type ProcessPayload struct {
	JobEnvelope
	FileID       string `json:"fileId"`
	FilePath     string `json:"filePath"`
	MimeType     string `json:"mimeType"`
	ChunkSize    int    `json:"chunkSize,omitempty"`
	ChunkOverlap int    `json:"chunkOverlap,omitempty"`
}

// SummarizePayload is the SUMMARIZATION job payload
type SummarizePayload struct {
	JobEnvelope
}

// AnalyzePayload is the STRUCTURE_ANALYSIS job payload
type AnalyzePayload struct {
	JobEnvelope
}

// StructurePayload is the STRUCTURE_GENERATION job payload
type StructurePayload struct {
	JobEnvelope
}

// LessonPayload is the LESSON_CONTENT job payload
type LessonPayload struct {
	JobEnvelope
	Spec          LessonSpec `json:"spec"`
	RAGContextID  string     `json:"ragContextId,omitempty"`
	ModelOverride string     `json:"modelOverride,omitempty"`
}

// QueueJob is the immutable record stored in the queue. Once enqueued the
// payload never changes; only queue bookkeeping fields (status, attempt,
// visibility) are updated.
type QueueJob struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"` // higher runs sooner
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Status      JobStatus       `json:"status"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	VisibleAt   time.Time       `json:"visible_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Deadline    time.Duration   `json:"deadline,omitempty"` // soft per-job deadline
}

// NewQueueJob creates a waiting job with a fresh id
func NewQueueJob(jobType JobType, payload json.RawMessage, priority, maxAttempts int) *QueueJob {
	now := time.Now()
	return &QueueJob{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Status:      JobStatusWaiting,
		EnqueuedAt:  now,
		VisibleAt:   now,
	}
}

// Envelope decodes just the common envelope fields from the payload
func (j *QueueJob) Envelope() (*JobEnvelope, error) {
	var env JobEnvelope
	if err := json.Unmarshal(j.Payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// JobStatusRow is the persistent projection of a job so callers can observe
// progress without consulting the queue directly
type JobStatusRow struct {
	ID           string    `json:"id" badgerhold:"key"`
	CourseID     string    `json:"course_id" badgerhold:"index"`
	JobType      JobType   `json:"job_type"`
	State        JobStatus `json:"state"`
	Attempt      int       `json:"attempt"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
