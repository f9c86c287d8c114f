package model

import (
	"time"

	"github.com/google/uuid"
)

type UnitAvailability string

const (
	UnitAvailable UnitAvailability = "available"
	UnitBusy      UnitAvailability = "busy"
)

type TransportUnit struct {
	ID                uuid.UUID        `json:"id"`
	Availability      UnitAvailability `json:"availability"`
	CurrentAssignment *string          `json:"current_assignment"`
	Location          *GeoPoint        `json:"location,omitempty"`
	LocationUpdatedAt *time.Time       `json:"location_updated_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`

	Version int64 `json:"-"`
}

func (u *TransportUnit) IsBusy() bool {
	return u.Availability == UnitBusy
}

// AssignedTo reports whether the unit currently points at recordID.
func (u *TransportUnit) AssignedTo(recordID string) bool {
	return u.CurrentAssignment != nil && *u.CurrentAssignment == recordID
}

type Facility struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Version int64 `json:"-"`
}

// HasCoordinates reports whether the facility has a location on file.
func (f *Facility) HasCoordinates() bool {
	return f.Lat != nil && f.Lng != nil
}
