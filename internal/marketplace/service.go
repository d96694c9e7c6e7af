package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
	"stagepass/ticket-marketplace/marketplace-backend/internal/orchestrator"
)

// Orchestrator is the slice of the sequencer the service depends on.
type Orchestrator interface {
	Execute(ctx context.Context, intent orchestrator.Intent) (*orchestrator.Result, error)
	Resume(ctx context.Context, runID uuid.UUID, intent orchestrator.Intent) (*orchestrator.Result, error)
}

// Service implements the marketplace operations: publishing events,
// purchasing listings, relisting for resale, and inspecting/resuming the
// underlying sequence runs.
type Service struct {
	repo   Repository
	seq    Orchestrator
	runs   orchestrator.Store
	origin string
	logger *zap.Logger
}

// NewService creates a marketplace service. origin is the public base URL
// used to derive shareable listing links.
func NewService(repo Repository, seq Orchestrator, runs orchestrator.Store, origin string, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		seq:    seq,
		runs:   runs,
		origin: origin,
		logger: logger,
	}
}

// ClassRequest describes one ticket class of a publish request.
type ClassRequest struct {
	Name               string                `json:"name"`
	PriceMinor         int64                 `json:"price_minor"`
	Supply             int64                 `json:"supply"`
	Split              economics.SplitConfig `json:"split"`
	Tax                economics.TaxConfig   `json:"tax"`
	SettlementPolicyID string                `json:"settlement_policy_id"`
}

// PublishRequest publishes a new event with at least one ticket class.
type PublishRequest struct {
	OrganizerID string         `json:"organizer_id"`
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Classes     []ClassRequest `json:"classes"`
}

// PublishResponse reports a completed publish run.
type PublishResponse struct {
	EventID    uuid.UUID         `json:"event_id"`
	ListingID  uuid.UUID         `json:"listing_id"`
	RunID      uuid.UUID         `json:"run_id"`
	Handles    map[string]string `json:"handles"`
	ListingURL string            `json:"listing_url"`
}

// PublishEvent validates the request's economics configs, runs the five-stage
// publish intent, and persists the resulting records. Configuration and
// validation errors return before anything reaches the ledger; a partial
// failure surfaces as *orchestrator.PartialFailureError with the handles
// already created.
func (s *Service) PublishEvent(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	intent := &orchestrator.PublishIntent{
		Organizer:     req.OrganizerID,
		EventName:     req.Name,
		EventMetadata: req.Metadata,
		Classes:       make([]orchestrator.ClassSpec, 0, len(req.Classes)),
	}
	for _, class := range req.Classes {
		intent.Classes = append(intent.Classes, orchestrator.ClassSpec{
			Name:               class.Name,
			PriceMinor:         class.PriceMinor,
			Supply:             class.Supply,
			Split:              class.Split,
			Tax:                class.Tax,
			SettlementPolicyID: class.SettlementPolicyID,
		})
	}

	result, err := s.seq.Execute(ctx, intent)
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event metadata: %w", err)
	}

	event := &Event{
		ID:           uuid.New(),
		OrganizerID:  req.OrganizerID,
		Name:         req.Name,
		Metadata:     datatypes.JSON(metadata),
		LedgerHandle: string(result.Handles[orchestrator.HandleEvent]),
		RunID:        result.RunID,
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	var primary *TicketClass
	for i, class := range req.Classes {
		splitJSON, err := json.Marshal(class.Split)
		if err != nil {
			return nil, fmt.Errorf("failed to encode split config: %w", err)
		}
		taxJSON, err := json.Marshal(class.Tax)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tax config: %w", err)
		}

		record := &TicketClass{
			ID:                 uuid.New(),
			EventID:            event.ID,
			Name:               class.Name,
			PriceMinor:         class.PriceMinor,
			Supply:             class.Supply,
			SplitConfig:        datatypes.JSON(splitJSON),
			TaxConfig:          datatypes.JSON(taxJSON),
			SettlementPolicyID: class.SettlementPolicyID,
		}
		if i == 0 {
			record.LedgerHandle = string(result.Handles[orchestrator.HandleClass])
			primary = record
		}
		if err := s.repo.CreateTicketClass(ctx, record); err != nil {
			return nil, err
		}
	}

	listing := &Listing{
		ID:              uuid.New(),
		TicketClassID:   primary.ID,
		SellerID:        req.OrganizerID,
		ContainerHandle: string(result.Handles[orchestrator.HandleContainer]),
		InstanceHandle:  string(result.Handles[orchestrator.HandleInstance]),
		Kind:            ListingKindPrimary,
		PriceMinor:      primary.PriceMinor,
		BaselineMinor:   primary.PriceMinor,
		Status:          ListingStatusListed,
	}
	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	s.logger.Info("event published",
		zap.String("event_id", event.ID.String()),
		zap.String("run_id", result.RunID.String()),
		zap.String("organizer", req.OrganizerID))

	return &PublishResponse{
		EventID:    event.ID,
		ListingID:  listing.ID,
		RunID:      result.RunID,
		Handles:    handleStrings(result.Handles),
		ListingURL: s.listingURL(listing),
	}, nil
}

// PurchaseRequest purchases a listed ticket for the buyer.
type PurchaseRequest struct {
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   string    `json:"buyer_id"`
}

// PurchaseResponse reports a settled purchase: the price paid, the anti-scalp
// tax withheld, and the per-recipient settlement shares the ledger enforced.
type PurchaseResponse struct {
	ListingID        uuid.UUID        `json:"listing_id"`
	RunID            uuid.UUID        `json:"run_id"`
	PricePaidMinor   int64            `json:"price_paid_minor"`
	TaxWithheldMinor int64            `json:"tax_withheld_minor"`
	Shares           map[string]int64 `json:"shares"`
}

// PurchaseListing executes the atomic purchase-and-settle intent for a
// listing and marks it sold.
func (s *Service) PurchaseListing(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	if req.BuyerID == "" {
		return nil, &orchestrator.ValidationError{Field: "buyer_id", Reason: "must not be empty"}
	}

	listing, err := s.repo.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != ListingStatusListed {
		return nil, &orchestrator.ValidationError{
			Field:  "listing_id",
			Reason: fmt.Sprintf("listing is %s, not purchasable", listing.Status),
		}
	}

	class, err := s.repo.GetTicketClass(ctx, listing.TicketClassID)
	if err != nil {
		return nil, err
	}
	split, err := class.Split()
	if err != nil {
		return nil, err
	}
	tax, err := class.Tax()
	if err != nil {
		return nil, err
	}

	intent := &orchestrator.PurchaseIntent{
		Buyer:              req.BuyerID,
		Container:          ledger.ObjectHandle(listing.ContainerHandle),
		Listing:            ledger.ObjectHandle(listing.InstanceHandle),
		AskingPriceMinor:   listing.PriceMinor,
		BaselinePriceMinor: listing.BaselineMinor,
		Split:              split,
		Tax:                tax,
		SettlementPolicyID: class.SettlementPolicyID,
	}

	result, err := s.seq.Execute(ctx, intent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tax64 := intent.TaxWithheld()
	listing.Status = ListingStatusSold
	listing.BuyerID = &req.BuyerID
	listing.SoldAt = &now
	listing.SoldRunID = &result.RunID
	listing.TaxWithheld = &tax64
	if err := s.repo.UpdateListing(ctx, listing); err != nil {
		return nil, err
	}

	s.logger.Info("listing purchased",
		zap.String("listing_id", listing.ID.String()),
		zap.String("buyer", req.BuyerID),
		zap.Int64("price_minor", listing.PriceMinor),
		zap.Int64("tax_withheld_minor", tax64))

	return &PurchaseResponse{
		ListingID:        listing.ID,
		RunID:            result.RunID,
		PricePaidMinor:   listing.PriceMinor,
		TaxWithheldMinor: tax64,
		Shares:           intent.SettlementShares(),
	}, nil
}

// ResaleRequest relists a previously sold ticket at a new asking price.
type ResaleRequest struct {
	ListingID        uuid.UUID `json:"listing_id"`
	SellerID         string    `json:"seller_id"`
	AskingPriceMinor int64     `json:"asking_price_minor"`
}

// ResaleResponse reports the new resale listing and the tax that would be
// withheld at the asking price.
type ResaleResponse struct {
	ListingID       uuid.UUID `json:"listing_id"`
	RunID           uuid.UUID `json:"run_id"`
	TaxPreviewMinor int64     `json:"tax_preview_minor"`
	ListingURL      string    `json:"listing_url"`
}

// CreateResaleListing relists a sold ticket for resale. Only the ticket's
// current owner may relist it. The markup baseline follows the class's
// configured source: face value, or the price of the sale being relisted.
// The tax itself is withheld when the resale settles.
func (s *Service) CreateResaleListing(ctx context.Context, req *ResaleRequest) (*ResaleResponse, error) {
	sold, err := s.repo.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if sold.Status != ListingStatusSold {
		return nil, &orchestrator.ValidationError{Field: "listing_id", Reason: "only sold tickets can be relisted"}
	}
	if sold.BuyerID == nil || *sold.BuyerID != req.SellerID {
		return nil, &orchestrator.ValidationError{Field: "seller_id", Reason: "seller does not own this ticket"}
	}

	class, err := s.repo.GetTicketClass(ctx, sold.TicketClassID)
	if err != nil {
		return nil, err
	}
	tax, err := class.Tax()
	if err != nil {
		return nil, err
	}

	baseline := class.PriceMinor
	if tax.BaselineSource == economics.BaselineLastSale {
		baseline = sold.PriceMinor
	}

	intent := &orchestrator.RelistIntent{
		Seller:             req.SellerID,
		Instance:           ledger.ObjectHandle(sold.InstanceHandle),
		AskingPriceMinor:   req.AskingPriceMinor,
		BaselinePriceMinor: baseline,
		Tax:                tax,
	}

	result, err := s.seq.Execute(ctx, intent)
	if err != nil {
		return nil, err
	}

	listing := &Listing{
		ID:              uuid.New(),
		TicketClassID:   class.ID,
		SellerID:        req.SellerID,
		ContainerHandle: string(result.Handles[orchestrator.HandleContainer]),
		InstanceHandle:  sold.InstanceHandle,
		Kind:            ListingKindResale,
		PriceMinor:      req.AskingPriceMinor,
		BaselineMinor:   baseline,
		Status:          ListingStatusListed,
	}
	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	return &ResaleResponse{
		ListingID:       listing.ID,
		RunID:           result.RunID,
		TaxPreviewMinor: intent.TaxPreview(),
		ListingURL:      s.listingURL(listing),
	}, nil
}

// GetRun returns the durable record of a sequence run, including which
// stages completed and the handles they produced.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*orchestrator.RunRecord, error) {
	return s.runs.Get(ctx, runID)
}

// ResumeRun re-enters a failed run at its recorded stage, rebuilding the
// intent from the run's persisted payload.
func (s *Service) ResumeRun(ctx context.Context, runID uuid.UUID) (*orchestrator.RunRecord, error) {
	rec, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	intent, err := intentFromRecord(rec)
	if err != nil {
		return nil, err
	}

	if _, err := s.seq.Resume(ctx, runID, intent); err != nil {
		return nil, err
	}
	return s.runs.Get(ctx, runID)
}

// ResumeInterrupted resumes every failed run the sequencer marked safe for
// automatic resume: visibility timeouts, where the failing stage completed
// and only its confirmation lagged. Called by the background sweeper. Runs
// with an unknown submit outcome are never swept; resubmitting them could
// duplicate ledger effects, so they wait for an explicit resume.
func (s *Service) ResumeInterrupted(ctx context.Context) int {
	recs, err := s.runs.ListRetryable(ctx, 50)
	if err != nil {
		s.logger.Error("failed to list retryable runs", zap.Error(err))
		return 0
	}

	resumed := 0
	for _, rec := range recs {
		if _, err := s.ResumeRun(ctx, rec.ID); err != nil {
			s.logger.Warn("retryable run did not complete",
				zap.String("run_id", rec.ID.String()),
				zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed
}

// QuoteSplit validates the config and returns the exact-sum shares for the
// amount.
func (s *Service) QuoteSplit(amount int64, cfg economics.SplitConfig) (map[string]int64, error) {
	if err := economics.ValidateSplitConfig(cfg); err != nil {
		return nil, err
	}
	return economics.ComputeSplitExact(amount, cfg), nil
}

// QuoteTax validates the config and returns the tax on the markup.
func (s *Service) QuoteTax(asking, baseline int64, cfg economics.TaxConfig) (int64, error) {
	if err := economics.ValidateTaxConfig(cfg); err != nil {
		return 0, err
	}
	return economics.ComputeTax(asking, baseline, cfg), nil
}

// listingURL derives the shareable buyer link for a listing. Informational
// only; nothing in the core consumes it.
func (s *Service) listingURL(listing *Listing) string {
	return fmt.Sprintf("%s/buyer?container=%s&listing=%s",
		s.origin, listing.ContainerHandle, listing.InstanceHandle)
}

func intentFromRecord(rec *orchestrator.RunRecord) (orchestrator.Intent, error) {
	var intent orchestrator.Intent
	switch rec.Intent {
	case orchestrator.IntentPublish:
		intent = &orchestrator.PublishIntent{}
	case orchestrator.IntentPurchase:
		intent = &orchestrator.PurchaseIntent{}
	case orchestrator.IntentRelist:
		intent = &orchestrator.RelistIntent{}
	default:
		return nil, fmt.Errorf("run %s holds unknown intent %q", rec.ID, rec.Intent)
	}
	if err := json.Unmarshal(rec.Payload, intent); err != nil {
		return nil, fmt.Errorf("run %s carries undecodable payload: %w", rec.ID, err)
	}
	return intent, nil
}

func handleStrings(handles orchestrator.HandleMap) map[string]string {
	out := make(map[string]string, len(handles))
	for name, handle := range handles {
		out[name] = string(handle)
	}
	return out
}
