package orchestrator

import (
	"fmt"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
)

// Intent names, persisted on run records.
const (
	IntentPublish  = "publish"
	IntentPurchase = "purchase"
)

// Handle-map keys for the objects a publish run produces.
const (
	HandleEvent     = "event"
	HandleClass     = "class"
	HandleInstance  = "instance"
	HandleContainer = "container"
)

// Ledger actions and the logical types their receipts tag created objects
// with.
const (
	ActionCreateEvent   = "event.create"
	ActionCreateClasses = "ticket_class.create"
	ActionMintTicket    = "ticket.mint"
	ActionListTicket    = "listing.create"

	TypeEvent  = "event"
	TypeClass  = "ticket_class"
	TypeTicket = "ticket"
)

// ClassSpec describes one ticket class (variant) of an event: a price, a
// supply, and the economics policies fixed at creation time.
type ClassSpec struct {
	Name               string                `json:"name"`
	PriceMinor         int64                 `json:"price_minor"`
	Supply             int64                 `json:"supply"`
	Split              economics.SplitConfig `json:"split"`
	Tax                economics.TaxConfig   `json:"tax"`
	SettlementPolicyID string                `json:"settlement_policy_id"`
}

// PublishIntent publishes a new sellable event: create the event record,
// create its ticket classes, mint one instance of the primary class, resolve
// the organizer's sale container, and list the instance at the primary
// class's price. Five stages, each after the first consuming a handle
// produced by an earlier one. Not atomic: see PartialFailureError.
type PublishIntent struct {
	Organizer     string         `json:"organizer"`
	EventName     string         `json:"event_name"`
	EventMetadata map[string]any `json:"event_metadata,omitempty"`
	Classes       []ClassSpec    `json:"classes"`
}

func (in *PublishIntent) Name() string { return IntentPublish }

// Validate checks every caller precondition and every economics config
// before anything reaches the ledger.
func (in *PublishIntent) Validate() error {
	if in.Organizer == "" {
		return &ValidationError{Field: "organizer", Reason: "must not be empty"}
	}
	if in.EventName == "" {
		return &ValidationError{Field: "event_name", Reason: "must not be empty"}
	}
	if len(in.Classes) == 0 {
		return &ValidationError{Field: "classes", Reason: "at least one ticket class is required"}
	}

	for i, class := range in.Classes {
		field := fmt.Sprintf("classes[%d]", i)
		if class.Name == "" {
			return &ValidationError{Field: field + ".name", Reason: "must not be empty"}
		}
		if class.PriceMinor <= 0 {
			return &ValidationError{Field: field + ".price_minor", Reason: "must be positive"}
		}
		if class.Supply <= 0 {
			return &ValidationError{Field: field + ".supply", Reason: "must be positive"}
		}
		if class.SettlementPolicyID == "" {
			return &ValidationError{Field: field + ".settlement_policy_id", Reason: "must not be empty"}
		}
		if err := economics.ValidateSplitConfig(class.Split); err != nil {
			return fmt.Errorf("%s.split: %w", field, err)
		}
		if err := economics.ValidateTaxConfig(class.Tax); err != nil {
			return fmt.Errorf("%s.tax: %w", field, err)
		}
	}
	return nil
}

// Stages expands the intent into its ordered stage list.
func (in *PublishIntent) Stages() []Stage {
	primary := in.Classes[0]

	return []Stage{
		&operationStage{
			id: "create-event",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				return &ledger.Operation{
					Action: ActionCreateEvent,
					Args: map[string]any{
						"organizer": in.Organizer,
						"name":      in.EventName,
						"metadata":  in.EventMetadata,
					},
				}, nil
			},
			captures: []capture{{Name: HandleEvent, LogicalType: TypeEvent}},
		},
		&operationStage{
			id: "create-ticket-classes",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				event, ok := handles[HandleEvent]
				if !ok {
					return nil, fmt.Errorf("no event handle available")
				}

				classes := make([]map[string]any, 0, len(in.Classes))
				for _, class := range in.Classes {
					classes = append(classes, map[string]any{
						"name":                 class.Name,
						"price_minor":          class.PriceMinor,
						"supply":               class.Supply,
						"settlement_policy_id": class.SettlementPolicyID,
					})
				}

				return &ledger.Operation{
					Action: ActionCreateClasses,
					Args: map[string]any{
						"event":   string(event),
						"classes": classes,
					},
				}, nil
			},
			captures: []capture{{Name: HandleClass, LogicalType: TypeClass}},
		},
		&operationStage{
			id: "mint-ticket",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				class, ok := handles[HandleClass]
				if !ok {
					return nil, fmt.Errorf("no ticket class handle available")
				}
				return &ledger.Operation{
					Action: ActionMintTicket,
					Args: map[string]any{
						"class":     string(class),
						"recipient": in.Organizer,
					},
				}, nil
			},
			captures: []capture{{Name: HandleInstance, LogicalType: TypeTicket}},
		},
		&containerStage{
			id:    "resolve-container",
			actor: in.Organizer,
		},
		&operationStage{
			id: "list-ticket",
			build: func(handles HandleMap) (*ledger.Operation, error) {
				instance, ok := handles[HandleInstance]
				if !ok {
					return nil, fmt.Errorf("no ticket instance handle available")
				}
				cont, ok := handles[HandleContainer]
				if !ok {
					return nil, fmt.Errorf("no container handle available")
				}
				return &ledger.Operation{
					Action: ActionListTicket,
					Args: map[string]any{
						"container":   string(cont),
						"instance":    string(instance),
						"price_minor": primary.PriceMinor,
					},
				}, nil
			},
		},
	}
}
