package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunStatus is the lifecycle status of a sequence run record.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ErrRunNotFound is returned when no run record exists for an id.
var ErrRunNotFound = errors.New("sequence run not found")

// RunRecord is the durable state of one sequence run. Every completed stage
// persists its produced handles and the next-stage index, so a failed run can
// be resumed at the stage it stopped at instead of restarting from zero.
type RunRecord struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	Intent     string         `json:"intent" gorm:"not null;index"`
	Payload    datatypes.JSON `json:"payload" gorm:"default:'{}'"`
	Status     RunStatus      `json:"status" gorm:"default:'pending';index"`
	StageCount int            `json:"stage_count" gorm:"not null"`
	NextStage  int            `json:"next_stage" gorm:"default:0"`
	Handles    datatypes.JSON `json:"handles" gorm:"default:'{}'"`

	FailedStage  *int    `json:"failed_stage,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Retryable    bool    `json:"retryable" gorm:"default:false;index"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HandleMap decodes the persisted handle map.
func (r *RunRecord) HandleMap() (HandleMap, error) {
	handles := make(HandleMap)
	if len(r.Handles) == 0 {
		return handles, nil
	}
	if err := json.Unmarshal(r.Handles, &handles); err != nil {
		return nil, fmt.Errorf("run %s carries undecodable handles: %w", r.ID, err)
	}
	return handles, nil
}

// SetHandles persists the handle map onto the record.
func (r *RunRecord) SetHandles(handles HandleMap) error {
	encoded, err := json.Marshal(handles)
	if err != nil {
		return fmt.Errorf("failed to encode handles for run %s: %w", r.ID, err)
	}
	r.Handles = datatypes.JSON(encoded)
	return nil
}

// Store persists run records.
type Store interface {
	Create(ctx context.Context, rec *RunRecord) error
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id uuid.UUID) (*RunRecord, error)
	ListRetryable(ctx context.Context, limit int) ([]RunRecord, error)
}

// GormStore is the postgres-backed run store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a run store on the given database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rec *RunRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save run record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run record %s: %w", id, err)
	}
	return &rec, nil
}

// ListRetryable returns failed runs that are safe to resume automatically,
// oldest first. Only runs whose failing stage completed and merely timed out
// waiting for visibility carry the flag; see Sequencer.fail.
func (s *GormStore) ListRetryable(ctx context.Context, limit int) ([]RunRecord, error) {
	query := s.db.WithContext(ctx).
		Where("status = ? AND retryable = ?", RunStatusFailed, true).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []RunRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list retryable runs: %w", err)
	}
	return recs, nil
}
