package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a marketplace record does not exist.
var ErrNotFound = errors.New("marketplace record not found")

// Repository handles all database operations for marketplace records.
type Repository interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)

	CreateTicketClass(ctx context.Context, class *TicketClass) error
	GetTicketClass(ctx context.Context, id uuid.UUID) (*TicketClass, error)

	CreateListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	UpdateListing(ctx context.Context, listing *Listing) error
	ListListings(ctx context.Context, status *ListingStatus, limit int) ([]Listing, error)
}

// GormRepository is the postgres-backed repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a marketplace repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) CreateEvent(ctx context.Context, event *Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event record: %w", err)
	}
	return nil
}

func (r *GormRepository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	var event Event
	err := r.db.WithContext(ctx).Preload("Classes").First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return &event, nil
}

func (r *GormRepository) CreateTicketClass(ctx context.Context, class *TicketClass) error {
	if err := r.db.WithContext(ctx).Create(class).Error; err != nil {
		return fmt.Errorf("failed to create ticket class record: %w", err)
	}
	return nil
}

func (r *GormRepository) GetTicketClass(ctx context.Context, id uuid.UUID) (*TicketClass, error) {
	var class TicketClass
	err := r.db.WithContext(ctx).First(&class, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: ticket class %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket class %s: %w", id, err)
	}
	return &class, nil
}

func (r *GormRepository) CreateListing(ctx context.Context, listing *Listing) error {
	if err := r.db.WithContext(ctx).Create(listing).Error; err != nil {
		return fmt.Errorf("failed to create listing record: %w", err)
	}
	return nil
}

func (r *GormRepository) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	var listing Listing
	err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: listing %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", id, err)
	}
	return &listing, nil
}

func (r *GormRepository) UpdateListing(ctx context.Context, listing *Listing) error {
	if err := r.db.WithContext(ctx).Save(listing).Error; err != nil {
		return fmt.Errorf("failed to update listing %s: %w", listing.ID, err)
	}
	return nil
}

func (r *GormRepository) ListListings(ctx context.Context, status *ListingStatus, limit int) ([]Listing, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var listings []Listing
	if err := query.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, nil
}
