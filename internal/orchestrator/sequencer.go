package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stagepass/ticket-marketplace/marketplace-backend/internal/container"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
	"stagepass/ticket-marketplace/marketplace-backend/pkg/workflows"
)

// Intent is a high-level request the sequencer expands into an ordered stage
// list. Validate must catch every precondition before any ledger operation is
// submitted; the intent's exported fields are persisted as the run payload so
// a failed run can be rebuilt and resumed.
type Intent interface {
	Name() string
	Validate() error
	Stages() []Stage
}

// Config tunes the sequencer's visibility polling. Between handle-producing
// stages the sequencer polls the ledger until the new object is queryable
// instead of sleeping a fixed interval; VisibilityAttempts of zero disables
// polling entirely.
type Config struct {
	VisibilityInterval time.Duration `json:"visibility_interval"`
	VisibilityAttempts int           `json:"visibility_attempts"`
}

// Result is the terminal state of a completed run.
type Result struct {
	RunID   uuid.UUID
	Handles HandleMap
}

// Sequencer executes an intent's stages strictly in order, threading the
// handles each stage produces into the arguments of later stages. Each stage
// is awaited to completion before the next is attempted; stage i+1's
// operation is never constructed before stage i's receipt is observed.
//
// The ledger offers per-operation atomicity only. On a stage failure the
// sequencer stops: no later stage is attempted and no earlier stage is
// undone; prior ledger effects are permanent and are reported through
// PartialFailureError.
type Sequencer struct {
	env     Env
	store   Store
	emitter ProgressEmitter
	states  *workflows.StateMachine
	cfg     Config
	logger  *zap.Logger
}

// New creates a sequencer.
func New(client ledger.Client, resolver *container.Resolver, store Store, emitter ProgressEmitter, cfg Config, logger *zap.Logger) *Sequencer {
	if emitter == nil {
		emitter = &LogEmitter{Logger: logger}
	}
	return &Sequencer{
		env:     Env{Client: client, Resolver: resolver, Logger: logger},
		store:   store,
		emitter: emitter,
		states:  workflows.NewRunStateMachine(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute validates the intent, creates a fresh durable run record, and
// drives the stages from the start. Validation and configuration errors
// return before anything reaches the ledger or the store.
func (s *Sequencer) Execute(ctx context.Context, intent Intent) (*Result, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s intent: %w", intent.Name(), err)
	}

	stages := intent.Stages()
	rec := &RunRecord{
		ID:         uuid.New(),
		Intent:     intent.Name(),
		Payload:    datatypes.JSON(payload),
		Status:     RunStatusPending,
		StageCount: len(stages),
		Handles:    datatypes.JSON([]byte("{}")),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	return s.run(ctx, rec, stages)
}

// Resume re-enters a failed run at its recorded next stage. The caller
// rebuilds the intent from the run's persisted payload; completed stages are
// not re-run, their handles are taken from the record. Terminal completed
// runs are never resumed.
func (s *Sequencer) Resume(ctx context.Context, runID uuid.UUID, intent Intent) (*Result, error) {
	rec, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Intent != intent.Name() {
		return nil, fmt.Errorf("run %s holds a %s intent, cannot resume it as %s", runID, rec.Intent, intent.Name())
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	stages := intent.Stages()
	if len(stages) != rec.StageCount {
		return nil, fmt.Errorf("run %s recorded %d stages but intent expands to %d", runID, rec.StageCount, len(stages))
	}

	return s.run(ctx, rec, stages)
}

func (s *Sequencer) run(ctx context.Context, rec *RunRecord, stages []Stage) (*Result, error) {
	if !s.states.CanTransition(string(rec.Status), string(RunStatusRunning)) {
		return nil, fmt.Errorf("run %s cannot start from status %s", rec.ID, rec.Status)
	}
	rec.Status = RunStatusRunning
	rec.FailedStage = nil
	rec.ErrorMessage = nil
	rec.Retryable = false
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	handles, err := rec.HandleMap()
	if err != nil {
		return nil, err
	}

	for i := rec.NextStage; i < len(stages); i++ {
		stage := stages[i]

		s.logger.Debug("running sequence stage",
			zap.String("run_id", rec.ID.String()),
			zap.Int("stage_index", i),
			zap.String("stage_id", stage.ID()))

		produced, err := stage.Run(ctx, s.env, handles)
		if err != nil {
			return nil, s.fail(ctx, rec, i, stage.ID(), handles, err)
		}

		for name, handle := range produced {
			if existing, ok := handles[name]; ok && existing != handle {
				err := fmt.Errorf("stage %s produced handle %q which is already bound", stage.ID(), name)
				return nil, s.fail(ctx, rec, i, stage.ID(), handles, err)
			}
			handles[name] = handle
		}

		rec.NextStage = i + 1
		if err := rec.SetHandles(handles); err != nil {
			return nil, s.fail(ctx, rec, i, stage.ID(), handles, err)
		}
		if err := s.store.Save(ctx, rec); err != nil {
			return nil, s.fail(ctx, rec, i, stage.ID(), handles, err)
		}

		s.emitter.Emit(ProgressEvent{
			RunID:      rec.ID,
			Intent:     rec.Intent,
			StageIndex: i,
			StageID:    stage.ID(),
			StageCount: rec.StageCount,
			Produced:   producedStrings(produced),
			At:         time.Now(),
		})

		// Later stages query objects this stage created; wait until the
		// ledger can actually serve them.
		if i < len(stages)-1 {
			if err := s.awaitVisibility(ctx, stage.Confirm(), produced); err != nil {
				return nil, s.fail(ctx, rec, i, stage.ID(), handles, err)
			}
		}
	}

	now := time.Now()
	rec.Status = RunStatusCompleted
	rec.CompletedAt = &now
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("sequence run completed",
		zap.String("run_id", rec.ID.String()),
		zap.String("intent", rec.Intent),
		zap.Int("stages", rec.StageCount))

	return &Result{RunID: rec.ID, Handles: handles}, nil
}

// fail marks the record failed at stage i and wraps the cause in a
// PartialFailureError carrying the handles already produced. Only visibility
// timeouts are marked for automatic resume; everything else waits for an
// explicit resume decision.
func (s *Sequencer) fail(ctx context.Context, rec *RunRecord, stageIndex int, stageID string, handles HandleMap, cause error) error {
	failed := stageIndex
	msg := cause.Error()
	rec.Status = RunStatusFailed
	rec.FailedStage = &failed
	rec.ErrorMessage = &msg
	rec.Retryable = isAutoResumable(cause)

	if saveErr := s.store.Save(ctx, rec); saveErr != nil {
		s.logger.Error("failed to persist run failure",
			zap.String("run_id", rec.ID.String()),
			zap.Error(saveErr))
	}

	s.logger.Warn("sequence run failed",
		zap.String("run_id", rec.ID.String()),
		zap.String("intent", rec.Intent),
		zap.Int("stage_index", stageIndex),
		zap.String("stage_id", stageID),
		zap.Bool("retryable", rec.Retryable),
		zap.Error(cause))

	return &PartialFailureError{
		RunID:      rec.ID,
		StageIndex: stageIndex,
		StageID:    stageID,
		Produced:   handles.Clone(),
		Err:        cause,
	}
}

// awaitVisibility polls the ledger until every confirm target's handle shows
// up in a query, giving up after the configured attempt budget.
func (s *Sequencer) awaitVisibility(ctx context.Context, targets []ConfirmTarget, produced HandleMap) error {
	if s.cfg.VisibilityAttempts <= 0 || len(targets) == 0 {
		return nil
	}

	for _, target := range targets {
		handle, ok := produced[target.Name]
		if !ok {
			continue
		}

		visible := false
		for attempt := 0; attempt < s.cfg.VisibilityAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.cfg.VisibilityInterval):
				}
			}

			found, err := s.env.Client.Query(ctx, ledger.Filter{
				LogicalType: target.LogicalType,
				Handle:      handle,
			})
			if err != nil {
				s.logger.Debug("visibility query failed, retrying", zap.Error(err))
				continue
			}
			if len(found) > 0 {
				visible = true
				break
			}
		}
		if !visible {
			return fmt.Errorf("%w: %s %q", ErrVisibilityTimeout, target.LogicalType, handle)
		}
	}
	return nil
}

// isAutoResumable reports whether the background sweeper may resume the run
// without an operator. Only a visibility timeout qualifies: the failing
// stage's receipt was observed and NextStage already advanced past it, so
// resuming cannot resubmit it. A transport failure on Submit has no known
// outcome; resubmitting the same operation automatically could duplicate its
// ledger effects, so those runs stay parked until an explicit resume.
func isAutoResumable(err error) bool {
	return errors.Is(err, ErrVisibilityTimeout)
}

func producedStrings(produced HandleMap) map[string]string {
	if len(produced) == 0 {
		return nil
	}
	out := make(map[string]string, len(produced))
	for name, handle := range produced {
		out[name] = string(handle)
	}
	return out
}
