package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a named camera site. Name is unique.
type Location struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LocationUpdate carries the mutable fields of a Location. Nil fields are left unchanged.
type LocationUpdate struct {
	Name      *string
	Latitude  *float64
	Longitude *float64
}
