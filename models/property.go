package models

import "time"

type PropertyStatus string

const (
	PropertyStatusActive  PropertyStatus = "active"
	PropertyStatusRemoved PropertyStatus = "removed"
)

// CanonicalProperty is the normalized, typed form of one scraped listing,
// ready for reconciliation against stored state.
type CanonicalProperty struct {
	ExternalID    string         `json:"external_id"`
	Source        string         `json:"source"`
	City          string         `json:"city,omitempty"`
	Neighborhood  string         `json:"neighborhood,omitempty"`
	Address       string         `json:"address,omitempty"`
	Bedrooms      *int           `json:"bedrooms"`
	Bathrooms     *int           `json:"bathrooms"`
	ParkingSpaces *int           `json:"parking_spaces"`
	AreaSqm       *float64       `json:"area_sqm"`
	RentPrice     *float64       `json:"rent_price"`
	CondoFee      *float64       `json:"condo_fee"`
	TotalPrice    *float64       `json:"total_price"`
	OriginalURL   string         `json:"original_url,omitempty"`
	MainImageURL  string         `json:"main_image_url,omitempty"`
	Description   string         `json:"description,omitempty"`
	RawData       map[string]any `json:"raw_data,omitempty"`
	Status        PropertyStatus `json:"status"`
}

// StoredProperty is a CanonicalProperty as persisted by a sync backend.
// ID is the storage-assigned surrogate key, stable across updates.
type StoredProperty struct {
	CanonicalProperty

	ID          int64     `json:"id" db:"id"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PriceChange holds the pre-change prices of a property. Append-only.
type PriceChange struct {
	ID         int64     `json:"id" db:"id"`
	PropertyID int64     `json:"property_id" db:"property_id"`
	RentPrice  *float64  `json:"rent_price" db:"rent_price"`
	CondoFee   *float64  `json:"condo_fee" db:"condo_fee"`
	TotalPrice *float64  `json:"total_price" db:"total_price"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
