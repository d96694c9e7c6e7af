package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/container"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// HandleMap accumulates the object handles produced by completed stages,
// keyed by logical name. Handles are threaded into later stage arguments
// unchanged; they are never constructed, only copied out of receipts.
type HandleMap map[string]ledger.ObjectHandle

// Clone returns an independent copy of the map.
func (h HandleMap) Clone() HandleMap {
	out := make(HandleMap, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Env carries the collaborators a stage may use while executing.
type Env struct {
	Client   ledger.Client
	Resolver *container.Resolver
	Logger   *zap.Logger
}

// ConfirmTarget names a produced handle the sequencer must see in a ledger
// query before the next stage may run.
type ConfirmTarget struct {
	Name        string
	LogicalType string
}

// Stage is one named step of a sequence run. Run receives the handles
// produced by earlier stages and returns the handles it produced itself; a
// stage submits at most one ledger Operation.
type Stage interface {
	ID() string
	Run(ctx context.Context, env Env, handles HandleMap) (HandleMap, error)
	Confirm() []ConfirmTarget
}

// capture maps a receipt's created object to a handle-map entry.
type capture struct {
	Name        string
	LogicalType string
}

// operationStage builds one Operation from the accumulated handles, submits
// it, and extracts the declared captures from the receipt.
type operationStage struct {
	id       string
	build    func(handles HandleMap) (*ledger.Operation, error)
	captures []capture
}

func (s *operationStage) ID() string { return s.id }

func (s *operationStage) Run(ctx context.Context, env Env, handles HandleMap) (HandleMap, error) {
	op, err := s.build(handles)
	if err != nil {
		return nil, fmt.Errorf("stage %s could not build its operation: %w", s.id, err)
	}

	receipt, err := env.Client.Submit(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("stage %s submission failed: %w", s.id, err)
	}
	if !receipt.Succeeded() {
		return nil, ledger.RejectionFromReceipt(op.Action, receipt)
	}

	produced := make(HandleMap, len(s.captures))
	for _, c := range s.captures {
		handle, err := receipt.HandleOf(c.LogicalType)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.id, err)
		}
		produced[c.Name] = handle
	}
	return produced, nil
}

func (s *operationStage) Confirm() []ConfirmTarget {
	targets := make([]ConfirmTarget, 0, len(s.captures))
	for _, c := range s.captures {
		targets = append(targets, ConfirmTarget{Name: c.Name, LogicalType: c.LogicalType})
	}
	return targets
}

// containerStage resolves the actor's reusable sale container through the
// resolver, which performs the find-or-create against the ledger itself.
type containerStage struct {
	id    string
	actor string
}

func (s *containerStage) ID() string { return s.id }

func (s *containerStage) Run(ctx context.Context, env Env, handles HandleMap) (HandleMap, error) {
	handle, err := env.Resolver.Resolve(ctx, s.actor)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", s.id, err)
	}
	return HandleMap{HandleContainer: handle}, nil
}

// Confirm is empty: the resolver already observed the container through a
// ledger query, so it is queryable by construction.
func (s *containerStage) Confirm() []ConfirmTarget { return nil }
