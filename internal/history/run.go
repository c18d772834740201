// Package history records pipeline runs so past executions can be
// listed and inspected. Persistence is optional: without a database
// the repository degrades to an in-memory record of the current
// process.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/rs/xid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrRunNotFound is returned when no run exists under an id.
var ErrRunNotFound = errors.New("run not found")

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusPending        RunStatus = "pending"
	RunStatusRunning        RunStatus = "running"
	RunStatusAwaitingReview RunStatus = "awaiting_review"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
)

// Run is the persistent record of one pipeline execution.
type Run struct {
	ID            string     `json:"id"                       gorm:"primaryKey"`
	PRDTitle      string     `json:"prd_title"`
	Status        RunStatus  `json:"status"`
	WorkspaceDir  string     `json:"workspace_dir"`
	EpicCount     int        `json:"epic_count"`
	TaskCount     int        `json:"task_count"`
	PRCount       int        `json:"pr_count"`
	ApprovedCount int        `json:"approved_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the table name for the Run model.
func (Run) TableName() string {
	return "pipeline_runs"
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return xid.New().String()
}

// RunRepository defines the interface for run persistence.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id string) (*Run, error)
	UpdateStatus(ctx context.Context, id string, status RunStatus, errorMsg string) error
	UpdateCounts(ctx context.Context, id string, epics, tasks, prs, approved int) error
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
}

// OpenDatabase connects to the run history database. An empty DSN
// disables persistence and returns a nil handle.
func OpenDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, nil
	}

	log := util.Log(ctx)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err = db.WithContext(ctx).AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	log.Info("run history database connected")
	return db, nil
}

// NewRunRepository creates a run repository. A nil database handle
// selects the in-memory implementation.
func NewRunRepository(_ context.Context, db *gorm.DB) RunRepository {
	if db != nil {
		return &PGRunRepository{db: db}
	}
	return &MemoryRunRepository{
		runs: make(map[string]*Run),
	}
}

// PGRunRepository is the PostgreSQL implementation of RunRepository.
type PGRunRepository struct {
	db *gorm.DB
}

// Create creates a new run record.
func (r *PGRunRepository) Create(ctx context.Context, run *Run) error {
	run.CreatedAt = time.Now()
	run.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Create(run).Error
}

// GetByID retrieves a run by id.
func (r *PGRunRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	return &run, nil
}

// UpdateStatus updates the run status and timestamps.
func (r *PGRunRepository) UpdateStatus(
	ctx context.Context,
	id string,
	status RunStatus,
	errorMsg string,
) error {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMsg,
		"updated_at":    time.Now(),
	}

	now := time.Now()
	if status == RunStatusRunning {
		updates["started_at"] = &now
	}
	if status == RunStatusCompleted || status == RunStatusFailed {
		updates["completed_at"] = &now
	}

	return r.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateCounts records the run's work breakdown and output sizes.
func (r *PGRunRepository) UpdateCounts(
	ctx context.Context,
	id string,
	epics, tasks, prs, approved int,
) error {
	return r.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(map[string]any{
		"epic_count":     epics,
		"task_count":     tasks,
		"pr_count":       prs,
		"approved_count": approved,
		"updated_at":     time.Now(),
	}).Error
}

// ListRecent returns the most recently created runs.
func (r *PGRunRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// MemoryRunRepository is an in-memory run repository used when no
// database is configured.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// Create creates a new run record.
func (r *MemoryRunRepository) Create(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.CreatedAt = time.Now()
	run.UpdatedAt = time.Now()
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

// GetByID retrieves a run by id.
func (r *MemoryRunRepository) GetByID(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	copied := *run
	return &copied, nil
}

// UpdateStatus updates the run status and timestamps.
func (r *MemoryRunRepository) UpdateStatus(
	_ context.Context,
	id string,
	status RunStatus,
	errorMsg string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	run.Status = status
	run.ErrorMessage = errorMsg
	run.UpdatedAt = time.Now()

	now := time.Now()
	if status == RunStatusRunning {
		run.StartedAt = &now
	}
	if status == RunStatusCompleted || status == RunStatusFailed {
		run.CompletedAt = &now
	}
	return nil
}

// UpdateCounts records the run's work breakdown and output sizes.
func (r *MemoryRunRepository) UpdateCounts(
	_ context.Context,
	id string,
	epics, tasks, prs, approved int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	run.EpicCount = epics
	run.TaskCount = tasks
	run.PRCount = prs
	run.ApprovedCount = approved
	run.UpdatedAt = time.Now()
	return nil
}

// ListRecent returns the most recently created runs.
func (r *MemoryRunRepository) ListRecent(_ context.Context, limit int) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		copied := *run
		runs = append(runs, &copied)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
