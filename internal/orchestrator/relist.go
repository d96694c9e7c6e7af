package orchestrator

import (
	"fmt"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// IntentRelist is the run intent for resale listings.
const IntentRelist = "relist"

// RelistIntent lists an already-minted ticket instance for resale: resolve
// the seller's sale container, then list the instance at the asking price.
// The anti-scalp tax on the markup is withheld at purchase time, not here;
// relisting only fixes the asking price the tax will be computed against.
type RelistIntent struct {
	Seller             string              `json:"seller"`
	Instance           ledger.ObjectHandle `json:"instance"`
	AskingPriceMinor   int64               `json:"asking_price_minor"`
	BaselinePriceMinor int64               `json:"baseline_price_minor"`
	Tax                economics.TaxConfig `json:"tax"`
}

func (in *RelistIntent) Name() string { return IntentRelist }

// Validate checks caller preconditions before submission.
func (in *RelistIntent) Validate() error {
	if in.Seller == "" {
		return &ValidationError{Field: "seller", Reason: "must not be empty"}
	}
	if in.Instance == "" {
		return &ValidationError{Field: "instance", Reason: "must not be empty"}
	}
	if in.AskingPriceMinor <= 0 {
		return &ValidationError{Field: "asking_price_minor", Reason: "must be positive"}
	}
	if in.BaselinePriceMinor < 0 {
		return &ValidationError{Field: "baseline_price_minor", Reason: "must not be negative"}
	}
	if err := economics.ValidateTaxConfig(in.Tax); err != nil {
		return fmt.Errorf("tax: %w", err)
	}
	return nil
}

// TaxPreview is the tax that would be withheld if the listing sold at the
// asking price today.
func (in *RelistIntent) TaxPreview() int64 {
	return economics.ComputeTax(in.AskingPriceMinor, in.BaselinePriceMinor, in.Tax)
}

// Stages expands the intent into its ordered stage list.
func (in *RelistIntent) Stages() []Stage {
	return []Stage{
		&containerStage{
			id:    "resolve-container",
			actor: in.Seller,
		},
		&operationStage{
			id: "list-ticket",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				cont, ok := handles[HandleContainer]
				if !ok {
					return nil, fmt.Errorf("no container handle available")
				}
				return &ledger.Operation{
					Action: ActionListTicket,
					Args: map[string]any{
						"container":   string(cont),
						"instance":    string(in.Instance),
						"price_minor": in.AskingPriceMinor,
					},
				}, nil
			},
		},
	}
}
