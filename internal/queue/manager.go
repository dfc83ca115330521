// Durable job queue on Badger. Jobs are stored once and never mutated except
// for queue bookkeeping; a composite index key orders ready jobs by priority
// then enqueue time, so a single seek finds the next job to run.
//
// Key layout:
//   jobq:{name}:job:{id}                          -> QueueJob JSON
//   jobq:{name}:ready:{inv-priority}:{ts}:{id}    -> nil  (waiting/delayed)
//   jobq:{name}:lease:{expiry-ts}:{id}            -> nil  (active)
//   jobq:{name}:dead:{ts}:{id}                   -> nil  (dead-letter)
//
// inv-priority is (MaxInt32 - priority) zero-padded, so higher priorities
// sort first under Badger's lexicographic iteration.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// Manager implements interfaces.QueueService on a shared Badger database
type Manager struct {
	db                *badgerdb.DB
	logger            arbor.ILogger
	queueName         string
	visibilityTimeout time.Duration
	maxAttempts       int
	backoffBase       time.Duration
	backoffMax        time.Duration
}

// NewManager creates a Badger-backed queue manager
func NewManager(db *badgerdb.DB, logger arbor.ILogger, cfg *common.QueueConfig) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	name := cfg.QueueName
	if name == "" {
		name = "doceo"
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Manager{
		db:                db,
		logger:            logger,
		queueName:         name,
		visibilityTimeout: common.Duration(cfg.VisibilityTimeout, 5*time.Minute),
		maxAttempts:       maxAttempts,
		backoffBase:       common.Duration(cfg.BackoffBase, 2*time.Second),
		backoffMax:        common.Duration(cfg.BackoffMax, 60*time.Second),
	}, nil
}

// Enqueue stores a job and makes it visible after opts.Delay
func (m *Manager) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts *interfaces.EnqueueOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	priority := models.DefaultPriority
	maxAttempts := m.maxAttempts
	var delay time.Duration
	if opts != nil {
		if opts.Priority != 0 {
			priority = opts.Priority
		}
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		delay = opts.Delay
	}

	job := models.NewQueueJob(jobType, data, priority, maxAttempts)
	if delay > 0 {
		job.Status = models.JobStatusDelayed
		job.VisibleAt = time.Now().Add(delay)
	}

	err = m.db.Update(func(txn *badgerdb.Txn) error {
		if err := m.putJob(txn, job); err != nil {
			return err
		}
		return txn.Set(m.readyKey(job), nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Debug().
		Str("job_id", job.ID).
		Str("type", string(jobType)).
		Int("priority", priority).
		Msg("Job enqueued")
	return job.ID, nil
}

// Reserve atomically claims the highest-priority ready job. The ready index
// sorts by priority then enqueue time, but a delayed job's visibility must
// still be checked against the clock before it can be claimed.
func (m *Manager) Reserve(ctx context.Context, consumerID string) (*interfaces.Reservation, error) {
	var reserved *models.QueueJob

	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("jobq:%s:ready:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := jobIDFromKey(key)
			if id == "" {
				continue
			}

			job, err := m.getJob(txn, id)
			if err != nil {
				if err == badgerdb.ErrKeyNotFound {
					// Orphaned index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if job.VisibleAt.After(now) {
				// Delayed; later entries may still be ready since the ready
				// index is not ordered by visibility
				continue
			}

			job.Status = models.JobStatusActive
			job.Attempt++
			job.StartedAt = now
			job.VisibleAt = now.Add(m.visibilityTimeout)

			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := m.putJob(txn, job); err != nil {
				return err
			}
			if err := txn.Set(m.leaseKey(job), nil); err != nil {
				return err
			}
			reserved = job
			return nil
		}
		return interfaces.ErrNoJob
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("job_id", reserved.ID).
		Str("type", string(reserved.Type)).
		Str("consumer", consumerID).
		Int("attempt", reserved.Attempt).
		Msg("Job reserved")

	return &interfaces.Reservation{
		JobID:   reserved.ID,
		Type:    reserved.Type,
		Payload: reserved.Payload,
		Attempt: reserved.Attempt,
	}, nil
}

// Extend renews an active job's lease
func (m *Manager) Extend(ctx context.Context, jobID string, d time.Duration) error {
	return m.db.Update(func(txn *badgerdb.Txn) error {
		job, err := m.getJob(txn, jobID)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		if job.Status != models.JobStatusActive {
			return fmt.Errorf("job %s is %s, cannot extend lease", jobID, job.Status)
		}
		if err := txn.Delete(m.leaseKey(job)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		job.VisibleAt = time.Now().Add(d)
		if err := m.putJob(txn, job); err != nil {
			return err
		}
		return txn.Set(m.leaseKey(job), nil)
	})
}

// Complete acknowledges a job, removing it from the queue entirely
func (m *Manager) Complete(ctx context.Context, jobID string) error {
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		job, err := m.getJob(txn, jobID)
		if err != nil {
			if err == badgerdb.ErrKeyNotFound {
				return nil // already completed by a concurrent delivery
			}
			return err
		}
		if err := txn.Delete(m.leaseKey(job)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(m.readyKey(job)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.jobKey(jobID))
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	m.logger.Debug().Str("job_id", jobID).Msg("Job completed")
	return nil
}

// Fail reschedules the job with exponential backoff (base*2^(attempt-1),
// capped), or moves it to the dead-letter partition when attempts are
// exhausted
func (m *Manager) Fail(ctx context.Context, jobID string, reason string) error {
	var deadLettered bool
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		job, err := m.getJob(txn, jobID)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		if err := txn.Delete(m.leaseKey(job)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}

		job.LastError = reason
		if job.Attempt >= job.MaxAttempts {
			job.Status = models.JobStatusFailed
			job.CompletedAt = time.Now()
			deadLettered = true
			if err := m.putJob(txn, job); err != nil {
				return err
			}
			return txn.Set(m.deadKey(job), nil)
		}

		job.Status = models.JobStatusDelayed
		job.VisibleAt = time.Now().Add(m.backoff(job.Attempt))
		if err := m.putJob(txn, job); err != nil {
			return err
		}
		return txn.Set(m.readyKey(job), nil)
	})
	if err != nil {
		return err
	}

	if deadLettered {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("error", reason).
			Msg("Job moved to dead-letter after exhausting attempts")
	} else {
		m.logger.Debug().
			Str("job_id", jobID).
			Str("error", reason).
			Msg("Job rescheduled with backoff")
	}
	return nil
}

// DiscardByCourse drops waiting and delayed jobs whose payload references the
// course. Active jobs finish their current attempt; their handlers notice the
// failed course and stop.
func (m *Manager) DiscardByCourse(ctx context.Context, courseID string) (int, error) {
	discarded := 0
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("jobq:%s:ready:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		type victim struct {
			indexKey []byte
			jobID    string
		}
		var victims []victim

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := jobIDFromKey(key)
			if id == "" {
				continue
			}
			job, err := m.getJob(txn, id)
			if err != nil {
				continue
			}
			env, err := job.Envelope()
			if err != nil || env.CourseID != courseID {
				continue
			}
			victims = append(victims, victim{indexKey: key, jobID: id})
		}

		for _, v := range victims {
			if err := txn.Delete(v.indexKey); err != nil {
				return err
			}
			if err := txn.Delete(m.jobKey(v.jobID)); err != nil {
				return err
			}
			discarded++
		}
		return nil
	})
	return discarded, err
}

// RequeueExpired returns active jobs whose lease has lapsed to the ready
// index. The attempt already counted stands; redelivery is how at-least-once
// manifests after a worker crash.
func (m *Manager) RequeueExpired(ctx context.Context) (int, error) {
	requeued := 0
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("jobq:%s:lease:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		type expired struct {
			leaseKey []byte
			jobID    string
		}
		var lapsed []expired

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id := leaseFromKey(key)
			if id == "" {
				continue
			}
			if ts.After(now) {
				// Lease keys sort by expiry; nothing further is lapsed
				break
			}
			lapsed = append(lapsed, expired{leaseKey: key, jobID: id})
		}

		for _, e := range lapsed {
			job, err := m.getJob(txn, e.jobID)
			if err != nil {
				if err == badgerdb.ErrKeyNotFound {
					if err := txn.Delete(e.leaseKey); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := txn.Delete(e.leaseKey); err != nil {
				return err
			}
			job.Status = models.JobStatusWaiting
			job.VisibleAt = now
			if err := m.putJob(txn, job); err != nil {
				return err
			}
			if err := txn.Set(m.readyKey(job), nil); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	if requeued > 0 {
		m.logger.Info().Int("requeued", requeued).Msg("Expired leases returned to queue")
	}
	return requeued, err
}

// PurgeDeadLetters removes dead-letter jobs older than the given age.
// Dead keys sort by the failure timestamp, so the scan stops at the first
// entry inside the retention window.
func (m *Manager) PurgeDeadLetters(ctx context.Context, olderThan time.Duration) (int, error) {
	purged := 0
	cutoff := time.Now().Add(-olderThan)
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("jobq:%s:dead:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		type victim struct {
			indexKey []byte
			jobID    string
		}
		var victims []victim

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id := leaseFromKey(key)
			if id == "" {
				continue
			}
			if ts.After(cutoff) {
				break
			}
			victims = append(victims, victim{indexKey: key, jobID: id})
		}

		for _, v := range victims {
			if err := txn.Delete(v.indexKey); err != nil {
				return err
			}
			if err := txn.Delete(m.jobKey(v.jobID)); err != nil && err != badgerdb.ErrKeyNotFound {
				return err
			}
			purged++
		}
		return nil
	})
	if purged > 0 {
		m.logger.Info().Int("purged", purged).Msg("Dead-letter jobs purged")
	}
	return purged, err
}

// DeadLetters lists jobs in the dead-letter partition
func (m *Manager) DeadLetters(ctx context.Context) ([]*models.QueueJob, error) {
	var jobs []*models.QueueJob
	err := m.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("jobq:%s:dead:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := jobIDFromKey(it.Item().Key())
			if id == "" {
				continue
			}
			job, err := m.getJob(txn, id)
			if err != nil {
				continue
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

// Drain removes all waiting and delayed jobs
func (m *Manager) Drain(ctx context.Context) error {
	return m.dropPrefix(fmt.Sprintf("jobq:%s:ready:", m.queueName), true)
}

// Obliterate removes every job record for this queue, including active and
// dead-letter entries
func (m *Manager) Obliterate(ctx context.Context) error {
	return m.dropPrefix(fmt.Sprintf("jobq:%s:", m.queueName), false)
}

func (m *Manager) dropPrefix(prefix string, resolveJobs bool) error {
	return m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		var keys [][]byte
		var jobIDs []string
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
			if resolveJobs {
				if id := jobIDFromKey(it.Item().Key()); id != "" {
					jobIDs = append(jobIDs, id)
				}
			}
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, id := range jobIDs {
			if err := txn.Delete(m.jobKey(id)); err != nil && err != badgerdb.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// backoff computes the retry delay after the given attempt number
func (m *Manager) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := m.backoffBase << (attempt - 1)
	if d > m.backoffMax || d < 0 {
		d = m.backoffMax
	}
	return d
}

// Keys

func (m *Manager) jobKey(id string) []byte {
	return []byte(fmt.Sprintf("jobq:%s:job:%s", m.queueName, id))
}

// readyKey orders waiting jobs by inverted priority then enqueue time
func (m *Manager) readyKey(job *models.QueueJob) []byte {
	inv := int64(math.MaxInt32) - int64(job.Priority)
	return []byte(fmt.Sprintf("jobq:%s:ready:%010d:%020d:%s", m.queueName, inv, job.EnqueuedAt.UnixNano(), job.ID))
}

// leaseKey orders active jobs by lease expiry
func (m *Manager) leaseKey(job *models.QueueJob) []byte {
	return []byte(fmt.Sprintf("jobq:%s:lease:%020d:%s", m.queueName, job.VisibleAt.UnixNano(), job.ID))
}

func (m *Manager) deadKey(job *models.QueueJob) []byte {
	return []byte(fmt.Sprintf("jobq:%s:dead:%020d:%s", m.queueName, job.CompletedAt.UnixNano(), job.ID))
}

func (m *Manager) getJob(txn *badgerdb.Txn, id string) (*models.QueueJob, error) {
	item, err := txn.Get(m.jobKey(id))
	if err != nil {
		return nil, err
	}
	var job models.QueueJob
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, err
	}
	return &job, nil
}

func (m *Manager) putJob(txn *badgerdb.Txn, job *models.QueueJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return txn.Set(m.jobKey(job.ID), data)
}

// jobIDFromKey extracts the trailing uuid segment of an index key. Job ids
// contain no colons, so the id is everything after the last colon.
func jobIDFromKey(key []byte) string {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[i+1:]
		}
	}
	return ""
}

// leaseFromKey parses the expiry timestamp and job id out of a lease key
func leaseFromKey(key []byte) (time.Time, string) {
	s := string(key)
	last := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			last = i
			break
		}
	}
	if last < 20 {
		return time.Time{}, ""
	}
	id := s[last+1:]
	tsStr := s[last-20 : last]
	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, ""
	}
	return time.Unix(0, ts), id
}
