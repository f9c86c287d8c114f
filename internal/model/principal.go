package model

import "github.com/google/uuid"

type UserRole string

const (
	UserRolePatient   UserRole = "PATIENT"
	UserRoleAmbulance UserRole = "AMBULANCE"
	UserRoleHospital  UserRole = "HOSPITAL"
	UserRoleAdmin     UserRole = "ADMIN"
	// UserRoleSystem is never issued in tokens; background workers act with it.
	UserRoleSystem UserRole = "SYSTEM"
)

type Principal struct {
	UserID     uuid.UUID
	Role       UserRole
	UnitID     *uuid.UUID
	FacilityID *uuid.UUID
}

// SystemPrincipal is the identity used by the sweeper and reconciler.
func SystemPrincipal() Principal {
	return Principal{Role: UserRoleSystem}
}

func (p Principal) IsPatient() bool {
	return p.Role == UserRolePatient
}

func (p Principal) IsUnit() bool {
	return p.Role == UserRoleAmbulance
}

func (p Principal) IsFacility() bool {
	return p.Role == UserRoleHospital
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

func (p Principal) IsSystem() bool {
	return p.Role == UserRoleSystem
}

// Privileged reports whether the principal may act on any record regardless of ownership.
func (p Principal) Privileged() bool {
	return p.IsAdmin() || p.IsSystem()
}

// UnitRef returns the transport unit the principal operates. Ambulance accounts
// without an explicit unit claim are the unit themselves.
func (p Principal) UnitRef() uuid.UUID {
	if p.UnitID != nil {
		return *p.UnitID
	}
	return p.UserID
}

// FacilityRef returns the facility the principal belongs to, falling back to the user id.
func (p Principal) FacilityRef() uuid.UUID {
	if p.FacilityID != nil {
		return *p.FacilityID
	}
	return p.UserID
}
