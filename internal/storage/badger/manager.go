package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// Manager implements the StorageManager interface backed by a single Badger
// database shared across all entity storages
type Manager struct {
	db        *BadgerDB
	logger    arbor.ILogger
	courses   interfaces.CourseStorage
	files     interfaces.FileStorage
	lessons   interfaces.LessonStorage
	jobStatus interfaces.JobStatusStorage
	kv        interfaces.KeyValueStorage
	vectors   interfaces.VectorStorage
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger: %w", err)
	}

	return &Manager{
		db:        db,
		logger:    logger,
		courses:   NewCourseStorage(db, logger),
		files:     NewFileStorage(db, logger),
		lessons:   NewLessonStorage(db, logger),
		jobStatus: NewJobStatusStorage(db, logger),
		kv:        NewKVStorage(db, logger),
		vectors:   NewVectorStorage(db, logger),
	}, nil
}

// DB exposes the underlying connection for components that share the store
// (the job queue keeps its own keyspace in the same database)
func (m *Manager) DB() *BadgerDB {
	return m.db
}

func (m *Manager) CourseStorage() interfaces.CourseStorage       { return m.courses }
func (m *Manager) FileStorage() interfaces.FileStorage           { return m.files }
func (m *Manager) LessonStorage() interfaces.LessonStorage       { return m.lessons }
func (m *Manager) JobStatusStorage() interfaces.JobStatusStorage { return m.jobStatus }
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage   { return m.kv }
func (m *Manager) VectorStorage() interfaces.VectorStorage       { return m.vectors }

// Close closes the shared database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}
