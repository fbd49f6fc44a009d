package user

import (
	"github.com/google/uuid"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleCivilian  Role = "civilian"
	RoleResponder Role = "responder"
	RoleAdmin     Role = "admin"
)

// Roles lists every role, in privilege order.
var Roles = []Role{RoleCivilian, RoleResponder, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCivilian, RoleResponder, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role may triage incidents and SOS requests.
func (r Role) IsStaff() bool {
	switch r {
	case RoleResponder, RoleAdmin:
		return true
	case RoleCivilian:
		return false
	}
	return false
}

// IsAdmin reports whether the role has administrative rights.
func (r Role) IsAdmin() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleCivilian, RoleResponder:
		return false
	}
	return false
}

func (r Role) String() string { return string(r) }

// Actor is the authenticated caller passed into every guarded operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// NewActor builds an actor from a user record.
func NewActor(u *User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// IsStaff reports whether the actor is a responder or admin.
func (a Actor) IsStaff() bool { return a.Role.IsStaff() }

// IsAdmin reports whether the actor is an admin.
func (a Actor) IsAdmin() bool { return a.Role.IsAdmin() }

// Owns reports whether ownerID is the actor.
func (a Actor) Owns(ownerID uuid.UUID) bool {
	return a.ID != uuid.Nil && a.ID == ownerID
}
