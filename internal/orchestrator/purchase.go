package orchestrator

import (
	"fmt"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// ActionPurchaseSettle is the single ledger action of a purchase run. The
// ledger executes it atomically: the buyer is debited the asking price, the
// listed instance leaves the container, and a settlement record is confirmed
// against the class's settlement policy in one operation.
const ActionPurchaseSettle = "purchase.settle"

// PurchaseIntent purchases a listed ticket and settles the proceeds. One
// stage, atomic by construction, unlike the five-stage publish.
//
// The operation arguments carry the economics outputs the ledger's policy
// layer enforces: the anti-scalp tax withheld from the asking price and the
// royalty shares computed over the remainder. The settlement policy
// identifier is threaded in from configuration, never module state.
type PurchaseIntent struct {
	Buyer              string                `json:"buyer"`
	Container          ledger.ObjectHandle   `json:"container"`
	Listing            ledger.ObjectHandle   `json:"listing"`
	AskingPriceMinor   int64                 `json:"asking_price_minor"`
	BaselinePriceMinor int64                 `json:"baseline_price_minor"`
	Split              economics.SplitConfig `json:"split"`
	Tax                economics.TaxConfig   `json:"tax"`
	SettlementPolicyID string                `json:"settlement_policy_id"`
}

func (in *PurchaseIntent) Name() string { return IntentPurchase }

// Validate checks caller preconditions and economics configs before
// submission.
func (in *PurchaseIntent) Validate() error {
	if in.Buyer == "" {
		return &ValidationError{Field: "buyer", Reason: "must not be empty"}
	}
	if in.Container == "" {
		return &ValidationError{Field: "container", Reason: "must not be empty"}
	}
	if in.Listing == "" {
		return &ValidationError{Field: "listing", Reason: "must not be empty"}
	}
	if in.AskingPriceMinor <= 0 {
		return &ValidationError{Field: "asking_price_minor", Reason: "must be positive"}
	}
	if in.SettlementPolicyID == "" {
		return &ValidationError{Field: "settlement_policy_id", Reason: "must not be empty"}
	}
	if err := economics.ValidateSplitConfig(in.Split); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if err := economics.ValidateTaxConfig(in.Tax); err != nil {
		return fmt.Errorf("tax: %w", err)
	}
	return nil
}

// TaxWithheld is the anti-scalp tax due on this purchase's markup.
func (in *PurchaseIntent) TaxWithheld() int64 {
	return economics.ComputeTax(in.AskingPriceMinor, in.BaselinePriceMinor, in.Tax)
}

// SettlementShares are the per-recipient transfers the ledger must honor:
// the asking price net of tax, split exactly with the remainder assigned to
// the final recipient.
func (in *PurchaseIntent) SettlementShares() map[string]int64 {
	return economics.ComputeSplitExact(in.AskingPriceMinor-in.TaxWithheld(), in.Split)
}

// Stages expands the intent into its single atomic stage.
func (in *PurchaseIntent) Stages() []Stage {
	return []Stage{
		&operationStage{
			id: "purchase-and-settle",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				tax := in.TaxWithheld()
				shares := in.SettlementShares()

				transfers := make(map[string]any, len(shares))
				for recipient, amount := range shares {
					transfers[recipient] = amount
				}

				return &ledger.Operation{
					Action: ActionPurchaseSettle,
					Args: map[string]any{
						"buyer":                in.Buyer,
						"container":            string(in.Container),
						"listing":              string(in.Listing),
						"price_minor":          in.AskingPriceMinor,
						"tax_withheld_minor":   tax,
						"settlement_policy_id": in.SettlementPolicyID,
						"transfers":            transfers,
					},
				}, nil
			},
		},
	}
}
