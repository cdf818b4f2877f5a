package model

import "time"

// Role is the authorisation level carried by a session.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Identity is the small record a session token resolves to. It is fixed
// for the lifetime of the token: changing a user's role does not touch
// already issued sessions, they must be revoked and reissued.
type Identity struct {
	UserID int64 `json:"id"`
	Role   Role  `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// User represents an application user record as stored in the
// `users` table. The credential columns are only read by the login path.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Name         – display name used in notification text.
//  Email        – unique email address, stored lower-cased.
//  PasswordHash – scrypt digest, hex encoded.
//  Salt         – per-user salt, hex encoded.
//  Role         – user or admin.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           int64     // users.id
	Name         string    // users.name
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Salt         string    // users.salt
	Role         Role      // users.role
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}
