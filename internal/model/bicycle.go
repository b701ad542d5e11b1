package model

import "time"

// Bicycle represents a rentable bicycle.  Availability is owned by the
// reservation lifecycle: it is false exactly while one ACTIVE reservation
// references the bicycle.  Prices are held in integer cents.
//
// Fields:
//  ID              – primary key identifier.
//  Name            – display name or frame label.
//  HourlyRateCents – price of one hour in cents (always positive).
//  Available       – whether the bicycle can be reserved.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Bicycle struct {
	ID              uint64    `json:"id"`                // bicycles.id
	Name            string    `json:"name"`              // bicycles.name
	HourlyRateCents int64     `json:"hourly_rate_cents"` // bicycles.hourly_rate_cents
	Available       bool      `json:"available"`         // bicycles.available
	CreatedAt       time.Time `json:"created_at"`        // bicycles.created_at
	UpdatedAt       time.Time `json:"updated_at"`        // bicycles.updated_at
}
