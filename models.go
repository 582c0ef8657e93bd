package users

import (
	"time"

	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleTenant marks placeholder accounts provisioned ahead of first login
	RoleTenant UserRole = "tenant"
	// RoleLandlord is a property owner
	RoleLandlord UserRole = "landlord"
	// RoleAdmin is an administrator
	RoleAdmin UserRole = "admin"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	ExternalID    string     `bun:"cognito_id,notnull,unique" json:"cognito_id"`
	Name          string     `bun:"name" json:"name"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	Role          UserRole   `bun:"role,nullzero" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"-"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"-"`
}

// IsTenant reports whether the record is a tenant placeholder
func (u *User) IsTenant() bool {
	return u != nil && u.Role == RoleTenant
}

// UserResponse is the wire representation of a User
type UserResponse struct {
	ID         int64   `json:"id"`
	ExternalID string  `json:"cognito_id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Role       *string `json:"role"`
}

// ToResponse renders the user for HTTP clients, role is null when unset.
func (u *User) ToResponse() UserResponse {
	res := UserResponse{
		ID:         u.ID,
		ExternalID: u.ExternalID,
		Name:       u.Name,
		Email:      u.Email,
	}
	if u.Role != "" {
		role := u.Role
		res.Role = &role
	}
	return res
}
