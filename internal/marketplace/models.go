package marketplace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
)

// Event is a published event with at least one ticket class.
type Event struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	OrganizerID string         `json:"organizer_id" gorm:"not null;index"`
	Name        string         `json:"name" gorm:"not null"`
	Metadata    datatypes.JSON `json:"metadata" gorm:"default:'{}'"`

	// Ledger integration
	LedgerHandle string    `json:"ledger_handle" gorm:"index"`
	RunID        uuid.UUID `json:"run_id" gorm:"type:uuid;index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Classes []TicketClass `json:"classes" gorm:"foreignKey:EventID"`
}

// TicketClass is one price/supply variant of an event. Its economics
// configs and settlement policy are fixed at creation time and validated
// before anything reaches the ledger.
type TicketClass struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	EventID    uuid.UUID `json:"event_id" gorm:"type:uuid;not null;index"`
	Name       string    `json:"name" gorm:"not null"`
	PriceMinor int64     `json:"price_minor" gorm:"not null"`
	Supply     int64     `json:"supply" gorm:"not null"`

	SplitConfig        datatypes.JSON `json:"split_config" gorm:"default:'{}'"`
	TaxConfig          datatypes.JSON `json:"tax_config" gorm:"default:'{}'"`
	SettlementPolicyID string         `json:"settlement_policy_id" gorm:"not null"`

	LedgerHandle string `json:"ledger_handle" gorm:"index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Split decodes the class's royalty split config.
func (c *TicketClass) Split() (economics.SplitConfig, error) {
	var cfg economics.SplitConfig
	if err := json.Unmarshal(c.SplitConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("ticket class %s carries undecodable split config: %w", c.ID, err)
	}
	return cfg, nil
}

// Tax decodes the class's anti-scalp tax config.
func (c *TicketClass) Tax() (economics.TaxConfig, error) {
	var cfg economics.TaxConfig
	if err := json.Unmarshal(c.TaxConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("ticket class %s carries undecodable tax config: %w", c.ID, err)
	}
	return cfg, nil
}

// ListingStatus is the lifecycle status of a listing.
type ListingStatus string

const (
	ListingStatusListed ListingStatus = "listed"
	ListingStatusSold   ListingStatus = "sold"
)

// ListingKind distinguishes primary listings from resales, which carry an
// anti-scalp tax on their markup over the baseline.
type ListingKind string

const (
	ListingKindPrimary ListingKind = "primary"
	ListingKindResale  ListingKind = "resale"
)

// Listing is a ticket instance held in a sale container and offered at a
// price. Handles are copied from ledger receipts, never constructed.
type Listing struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	TicketClassID uuid.UUID `json:"ticket_class_id" gorm:"type:uuid;not null;index"`
	SellerID      string    `json:"seller_id" gorm:"not null;index"`

	ContainerHandle string `json:"container_handle" gorm:"not null;index"`
	InstanceHandle  string `json:"instance_handle" gorm:"not null;index"`

	Kind          ListingKind   `json:"kind" gorm:"default:'primary'"`
	PriceMinor    int64         `json:"price_minor" gorm:"not null"`
	BaselineMinor int64         `json:"baseline_minor" gorm:"not null"`
	Status        ListingStatus `json:"status" gorm:"default:'listed';index"`

	BuyerID     *string    `json:"buyer_id,omitempty"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
	SoldRunID   *uuid.UUID `json:"sold_run_id,omitempty" gorm:"type:uuid"`
	TaxWithheld *int64     `json:"tax_withheld,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
