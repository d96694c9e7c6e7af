package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/container"
	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// MockClient is a mock implementation of the ledger.Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Submit(ctx context.Context, op *ledger.Operation) (*ledger.Receipt, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Receipt), args.Error(1)
}

func (m *MockClient) Query(ctx context.Context, filter ledger.Filter) ([]ledger.ObjectHandle, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.ObjectHandle), args.Error(1)
}

// memStore is an in-memory run store for tests.
type memStore struct {
	mu   sync.Mutex
	recs map[uuid.UUID]RunRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[uuid.UUID]RunRecord)}
}

func (s *memStore) Create(ctx context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) Save(ctx context.Context, rec *RunRecord) error {
	return s.Create(ctx, rec)
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &rec, nil
}

func (s *memStore) ListRetryable(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunRecord
	for _, rec := range s.recs {
		if rec.Status == RunStatusFailed && rec.Retryable {
			out = append(out, rec)
		}
	}
	return out, nil
}

// captureEmitter records progress events in order.
type captureEmitter struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (e *captureEmitter) Emit(event ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func newSequencer(client *MockClient, store Store, emitter ProgressEmitter, cfg Config) *Sequencer {
	logger := zap.NewNop()
	resolver := container.NewResolver(client, logger)
	return New(client, resolver, store, emitter, cfg, logger)
}

func successReceipt(objects ...ledger.CreatedObject) *ledger.Receipt {
	return &ledger.Receipt{Status: ledger.StatusSuccess, CreatedObjects: objects}
}

func submitFor(action string) any {
	return mock.MatchedBy(func(op *ledger.Operation) bool { return op.Action == action })
}

func publishIntent() *PublishIntent {
	return &PublishIntent{
		Organizer: "organizer-1",
		EventName: "Warehouse Night",
		Classes: []ClassSpec{{
			Name:       "general-admission",
			PriceMinor: 500_000_000,
			Supply:     100,
			Split: economics.SplitConfig{Recipients: []economics.SplitRecipient{
				{Recipient: "artist", ShareBps: 9000},
				{Recipient: "organizer", ShareBps: 800},
				{Recipient: "platform", ShareBps: 200},
			}},
			Tax: economics.TaxConfig{
				Enabled:        true,
				BaselineSource: economics.BaselineFaceValue,
				MinimumTax:     1,
				Tiers:          []economics.TaxTier{{ThresholdBps: 0, TaxBps: 500}},
			},
			SettlementPolicyID: "policy-1",
		}},
	}
}

func TestPublishRunsAllStagesInOrder(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	emitter := &captureEmitter{}
	seq := newSequencer(client, store, emitter, Config{})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor(ActionCreateEvent)).
		Return(successReceipt(ledger.CreatedObject{Handle: "evt-1", LogicalType: TypeEvent}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionCreateClasses)).
		Return(successReceipt(ledger.CreatedObject{Handle: "cls-1", LogicalType: TypeClass}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionMintTicket)).
		Return(successReceipt(ledger.CreatedObject{Handle: "tkt-1", LogicalType: TypeTicket}), nil).Once()
	client.On("Query", ctx, ledger.Filter{Owner: "organizer-1", LogicalType: container.LogicalType}).
		Return([]ledger.ObjectHandle{"cont-1"}, nil).Once()
	client.On("Submit", ctx, submitFor(ActionListTicket)).
		Return(successReceipt(), nil).Once()

	result, err := seq.Execute(ctx, publishIntent())
	require.NoError(t, err)

	// All four handles present, non-empty, distinct.
	require.Len(t, result.Handles, 4)
	seen := make(map[ledger.ObjectHandle]bool)
	for _, name := range []string{HandleEvent, HandleClass, HandleInstance, HandleContainer} {
		handle := result.Handles[name]
		assert.NotEmpty(t, handle, name)
		assert.False(t, seen[handle], "handle %s duplicated", handle)
		seen[handle] = true
	}

	rec, err := store.Get(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, rec.Status)
	assert.Equal(t, 5, rec.NextStage)
	assert.NotNil(t, rec.CompletedAt)

	// One progress event per stage, in stage order.
	require.Len(t, emitter.events, 5)
	for i, event := range emitter.events {
		assert.Equal(t, i, event.StageIndex)
		assert.Equal(t, result.RunID, event.RunID)
	}
	assert.Equal(t, "create-event", emitter.events[0].StageID)
	assert.Equal(t, "list-ticket", emitter.events[4].StageID)

	client.AssertExpectations(t)
}

func TestPublishStopsAtFirstFailingStage(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor(ActionCreateEvent)).
		Return(successReceipt(ledger.CreatedObject{Handle: "evt-1", LogicalType: TypeEvent}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionCreateClasses)).
		Return(successReceipt(ledger.CreatedObject{Handle: "cls-1", LogicalType: TypeClass}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionMintTicket)).
		Return(&ledger.Receipt{
			Status:      ledger.StatusFailure,
			Code:        "SUPPLY_EXHAUSTED",
			ErrorDetail: "class supply exhausted",
		}, nil).Once()

	_, err := seq.Execute(ctx, publishIntent())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.StageIndex)
	assert.Equal(t, "mint-ticket", partial.StageID)

	// Exactly the handles of the two completed stages; nothing undone,
	// nothing past the failure.
	require.Len(t, partial.Produced, 2)
	assert.Equal(t, ledger.ObjectHandle("evt-1"), partial.Produced[HandleEvent])
	assert.Equal(t, ledger.ObjectHandle("cls-1"), partial.Produced[HandleClass])

	var rejection *ledger.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "SUPPLY_EXHAUSTED", rejection.Code)

	rec, err := store.Get(ctx, partial.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, rec.Status)
	assert.Equal(t, 2, rec.NextStage)
	require.NotNil(t, rec.FailedStage)
	assert.Equal(t, 2, *rec.FailedStage)
	assert.False(t, rec.Retryable, "a definitive rejection is not retryable")

	// No operation past the failing stage was ever constructed or sent.
	client.AssertNumberOfCalls(t, "Submit", 3)
	client.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestTransportFailureWaitsForExplicitResume(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor(ActionCreateEvent)).
		Return(nil, &ledger.TransientError{Op: ActionCreateEvent, Err: context.DeadlineExceeded}).Once()

	intent := publishIntent()
	_, err := seq.Execute(ctx, intent)

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 0, partial.StageIndex)
	assert.Empty(t, partial.Produced)

	// The submit outcome is unknown: the first attempt may or may not have
	// executed, so the sweeper must not pick the run up and resubmit it.
	rec, err := store.Get(ctx, partial.RunID)
	require.NoError(t, err)
	assert.False(t, rec.Retryable)

	retryable, err := store.ListRetryable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)
	client.AssertNumberOfCalls(t, "Submit", 1)

	// An operator who has checked the ledger can still resume explicitly.
	client.On("Submit", ctx, submitFor(ActionCreateEvent)).
		Return(successReceipt(ledger.CreatedObject{Handle: "evt-1", LogicalType: TypeEvent}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionCreateClasses)).
		Return(successReceipt(ledger.CreatedObject{Handle: "cls-1", LogicalType: TypeClass}), nil).Once()
	client.On("Submit", ctx, submitFor(ActionMintTicket)).
		Return(successReceipt(ledger.CreatedObject{Handle: "tkt-1", LogicalType: TypeTicket}), nil).Once()
	client.On("Query", ctx, ledger.Filter{Owner: "organizer-1", LogicalType: container.LogicalType}).
		Return([]ledger.ObjectHandle{"cont-1"}, nil).Once()
	client.On("Submit", ctx, submitFor(ActionListTicket)).
		Return(successReceipt(), nil).Once()

	result, err := seq.Resume(ctx, partial.RunID, intent)
	require.NoError(t, err)
	assert.Len(t, result.Handles, 4)
}

func TestValidationFailsBeforeAnyLedgerCall(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})

	intent := publishIntent()
	intent.Classes[0].PriceMinor = 0

	_, err := seq.Execute(context.Background(), intent)

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "classes[0].price_minor", validation.Field)

	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	assert.Empty(t, store.recs)
}

func TestInvalidSplitConfigFailsBeforeAnyLedgerCall(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})

	intent := publishIntent()
	intent.Classes[0].Split.Recipients[0].ShareBps = 8999 // sums to 9,999

	_, err := seq.Execute(context.Background(), intent)

	assert.ErrorIs(t, err, economics.ErrInvalidConfiguration)
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	assert.Empty(t, store.recs)
}

func TestResumeContinuesFromRecordedStage(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})
	ctx := context.Background()

	intent := publishIntent()

	// A run that failed at container resolution: stages 0..2 completed and
	// their ledger effects are permanent.
	rec := &RunRecord{
		ID:         uuid.New(),
		Intent:     IntentPublish,
		Status:     RunStatusFailed,
		StageCount: 5,
		NextStage:  3,
	}
	failed := 3
	rec.FailedStage = &failed
	require.NoError(t, rec.SetHandles(HandleMap{
		HandleEvent:    "evt-1",
		HandleClass:    "cls-1",
		HandleInstance: "tkt-1",
	}))
	require.NoError(t, store.Create(ctx, rec))

	client.On("Query", ctx, ledger.Filter{Owner: "organizer-1", LogicalType: container.LogicalType}).
		Return([]ledger.ObjectHandle{"cont-1"}, nil).Once()
	client.On("Submit", ctx, submitFor(ActionListTicket)).
		Return(successReceipt(), nil).Once()

	result, err := seq.Resume(ctx, rec.ID, intent)
	require.NoError(t, err)

	assert.Len(t, result.Handles, 4)
	assert.Equal(t, ledger.ObjectHandle("cont-1"), result.Handles[HandleContainer])

	// Completed stages were not re-run: the only Submit was the listing.
	client.AssertNumberOfCalls(t, "Submit", 1)

	saved, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, saved.Status)
}

func TestCompletedRunIsNeverResumed(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})
	ctx := context.Background()

	rec := &RunRecord{
		ID:         uuid.New(),
		Intent:     IntentPublish,
		Status:     RunStatusCompleted,
		StageCount: 5,
		NextStage:  5,
	}
	require.NoError(t, store.Create(ctx, rec))

	_, err := seq.Resume(ctx, rec.ID, publishIntent())
	require.Error(t, err)
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestPurchaseSettlementCarriesEconomicsOutputs(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{})
	ctx := context.Background()

	intent := &PurchaseIntent{
		Buyer:            "buyer-1",
		Container:        "cont-1",
		Listing:          "tkt-1",
		AskingPriceMinor: 250_000_000,
		// Primary sale: baseline equals asking, no tax.
		BaselinePriceMinor: 250_000_000,
		Split: economics.SplitConfig{Recipients: []economics.SplitRecipient{
			{Recipient: "artist", ShareBps: 9000},
			{Recipient: "organizer", ShareBps: 800},
			{Recipient: "platform", ShareBps: 200},
		}},
		SettlementPolicyID: "policy-1",
	}

	var submitted *ledger.Operation
	client.On("Submit", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			submitted = args.Get(1).(*ledger.Operation)
		}).
		Return(successReceipt(), nil).Once()

	result, err := seq.Execute(ctx, intent)
	require.NoError(t, err)
	assert.Empty(t, result.Handles)

	require.NotNil(t, submitted)
	assert.Equal(t, ActionPurchaseSettle, submitted.Action)
	assert.Equal(t, "buyer-1", submitted.Args["buyer"])
	assert.Equal(t, int64(250_000_000), submitted.Args["price_minor"])
	assert.Equal(t, int64(0), submitted.Args["tax_withheld_minor"])
	assert.Equal(t, "policy-1", submitted.Args["settlement_policy_id"])

	transfers := submitted.Args["transfers"].(map[string]any)
	assert.Equal(t, int64(225_000_000), transfers["artist"])
	assert.Equal(t, int64(20_000_000), transfers["organizer"])
	assert.Equal(t, int64(5_000_000), transfers["platform"])

	rec, err := store.Get(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, rec.Status)
}

func TestResalePurchaseWithholdsAntiScalpTax(t *testing.T) {
	intent := &PurchaseIntent{
		Buyer:              "buyer-2",
		Container:          "cont-1",
		Listing:            "tkt-1",
		AskingPriceMinor:   1200,
		BaselinePriceMinor: 1000,
		Split: economics.SplitConfig{Recipients: []economics.SplitRecipient{
			{Recipient: "artist", ShareBps: 5000},
			{Recipient: "seller", ShareBps: 5000},
		}},
		Tax: economics.TaxConfig{
			Enabled:        true,
			BaselineSource: economics.BaselineFaceValue,
			Tiers: []economics.TaxTier{
				{ThresholdBps: 0, TaxBps: 500},
				{ThresholdBps: 1000, TaxBps: 1200},
				{ThresholdBps: 3000, TaxBps: 2000},
			},
		},
		SettlementPolicyID: "policy-1",
	}
	require.NoError(t, intent.Validate())

	// Markup 20% selects the 1200 bp tier: tax = floor(200*1200/10000) = 24.
	assert.Equal(t, int64(24), intent.TaxWithheld())

	// The 1176 net splits 588/588 with no remainder.
	shares := intent.SettlementShares()
	assert.Equal(t, int64(588), shares["artist"])
	assert.Equal(t, int64(588), shares["seller"])
}

// testIntent wraps arbitrary stages so visibility behavior can be exercised
// without a full publish.
type testIntent struct {
	name   string
	stages []Stage
}

func (in *testIntent) Name() string    { return in.name }
func (in *testIntent) Validate() error { return nil }
func (in *testIntent) Stages() []Stage { return in.stages }

func twoStageIntent() *testIntent {
	return &testIntent{
		name: "publish",
		stages: []Stage{
			&operationStage{
				id: "create-thing",
				build: func(HandleMap) (*ledger.Operation, error) {
					return &ledger.Operation{Action: "thing.create"}, nil
				},
				captures: []capture{{Name: "thing", LogicalType: "thing"}},
			},
			&operationStage{
				id: "use-thing",
				build: func(handles HandleMap) (*ledger.Operation, error) {
					return &ledger.Operation{
						Action: "thing.use",
						Args:   map[string]any{"thing": string(handles["thing"])},
					}, nil
				},
			},
		},
	}
}

func TestVisibilityPollingWaitsForQueryableObject(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{
		VisibilityInterval: time.Millisecond,
		VisibilityAttempts: 5,
	})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor("thing.create")).
		Return(successReceipt(ledger.CreatedObject{Handle: "thing-1", LogicalType: "thing"}), nil).Once()

	// Not visible on the first poll, visible on the second.
	visibilityQuery := ledger.Filter{LogicalType: "thing", Handle: "thing-1"}
	client.On("Query", ctx, visibilityQuery).Return([]ledger.ObjectHandle{}, nil).Once()
	client.On("Query", ctx, visibilityQuery).Return([]ledger.ObjectHandle{"thing-1"}, nil).Once()

	client.On("Submit", ctx, submitFor("thing.use")).
		Return(successReceipt(), nil).Once()

	_, err := seq.Execute(ctx, twoStageIntent())
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestVisibilityTimeoutFailsTheRunAsRetryable(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{
		VisibilityInterval: time.Millisecond,
		VisibilityAttempts: 3,
	})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor("thing.create")).
		Return(successReceipt(ledger.CreatedObject{Handle: "thing-1", LogicalType: "thing"}), nil).Once()
	client.On("Query", ctx, mock.Anything).Return([]ledger.ObjectHandle{}, nil)

	_, err := seq.Execute(ctx, twoStageIntent())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, ErrVisibilityTimeout)

	// The producing stage succeeded, so its handle is already recorded.
	assert.Equal(t, ledger.ObjectHandle("thing-1"), partial.Produced["thing"])

	rec, err := store.Get(ctx, partial.RunID)
	require.NoError(t, err)
	assert.True(t, rec.Retryable)

	// The dependent stage never ran.
	client.AssertNumberOfCalls(t, "Submit", 1)
}

func TestSweptVisibilityTimeoutDoesNotResubmitCompletedStage(t *testing.T) {
	client := new(MockClient)
	store := newMemStore()
	seq := newSequencer(client, store, &captureEmitter{}, Config{
		VisibilityInterval: time.Millisecond,
		VisibilityAttempts: 2,
	})
	ctx := context.Background()

	client.On("Submit", ctx, submitFor("thing.create")).
		Return(successReceipt(ledger.CreatedObject{Handle: "thing-1", LogicalType: "thing"}), nil).Once()
	client.On("Query", ctx, mock.Anything).Return([]ledger.ObjectHandle{}, nil)

	_, err := seq.Execute(ctx, twoStageIntent())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)

	// The create stage completed and advanced the record, so the sweeper may
	// pick this run up.
	rec, err := store.Get(ctx, partial.RunID)
	require.NoError(t, err)
	assert.True(t, rec.Retryable)
	assert.Equal(t, 1, rec.NextStage)

	retryable, err := store.ListRetryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, partial.RunID, retryable[0].ID)

	client.On("Submit", ctx, submitFor("thing.use")).
		Return(successReceipt(), nil).Once()

	_, err = seq.Resume(ctx, partial.RunID, twoStageIntent())
	require.NoError(t, err)

	// Resuming picked up at the recorded stage; thing.create went to the
	// ledger exactly once across both passes.
	client.AssertNumberOfCalls(t, "Submit", 2)
}
