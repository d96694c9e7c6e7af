package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// LogicalType tags sale containers in receipts and queries.
const LogicalType = "sale_container"

// CreateAction is the ledger action that provisions a new sale container.
const CreateAction = "container.create"

// Resolver finds an actor's reusable sale container on the ledger, creating
// one when none exists. Containers are created once per actor and reused
// indefinitely; this core never destroys them.
//
// Calls for the same actor are serialized through an in-process mutex so two
// concurrent publishes from one process cannot both observe "no container"
// and create duplicates. The cross-process race remains: true uniqueness
// needs a ledger-side exclusivity constraint.
type Resolver struct {
	client ledger.Client
	logger *zap.Logger

	mu     sync.Mutex
	actors map[string]*sync.Mutex
}

// NewResolver creates a container resolver.
func NewResolver(client ledger.Client, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
		actors: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the actor's sale container handle, provisioning a new
// container when the actor has none. When several containers exist the first
// in ledger-assigned order wins, so repeated calls are deterministic.
//
// A failed existence query surfaces as a ledger.TransientError; a failed
// creation surfaces as a ledger.RejectionError.
func (r *Resolver) Resolve(ctx context.Context, actor string) (ledger.ObjectHandle, error) {
	if actor == "" {
		return "", fmt.Errorf("cannot resolve a container for an empty actor")
	}

	lock := r.actorLock(actor)
	lock.Lock()
	defer lock.Unlock()

	handles, err := r.client.Query(ctx, ledger.Filter{
		Owner:       actor,
		LogicalType: LogicalType,
	})
	if err != nil {
		return "", fmt.Errorf("container lookup for %s failed: %w", actor, err)
	}

	if len(handles) > 0 {
		if len(handles) > 1 {
			r.logger.Warn("actor owns multiple sale containers, using first",
				zap.String("actor", actor),
				zap.Int("count", len(handles)))
		}
		return handles[0], nil
	}

	receipt, err := r.client.Submit(ctx, &ledger.Operation{
		Action: CreateAction,
		Args:   map[string]any{"owner": actor},
	})
	if err != nil {
		return "", fmt.Errorf("container creation for %s failed: %w", actor, err)
	}
	if !receipt.Succeeded() {
		return "", ledger.RejectionFromReceipt(CreateAction, receipt)
	}

	handle, err := receipt.HandleOf(LogicalType)
	if err != nil {
		return "", fmt.Errorf("container creation for %s returned no container: %w", actor, err)
	}

	r.logger.Info("provisioned sale container",
		zap.String("actor", actor),
		zap.String("container", string(handle)))

	return handle, nil
}

func (r *Resolver) actorLock(actor string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.actors[actor]
	if !ok {
		lock = &sync.Mutex{}
		r.actors[actor] = lock
	}
	return lock
}
