package services

import "infomail/database"

// Identity is the authenticated caller as established by the HTTP layer.
type Identity struct {
	UserID int64
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == database.RoleAdmin }

// CanSee reports whether rows owned by ownerID are visible to the caller.
func (i Identity) CanSee(ownerID int64) bool { return i.IsAdmin() || i.UserID == ownerID }
