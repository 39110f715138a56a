package model

import (
	"time"
)

// UserStatus represents the status of a user account
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusLocked   UserStatus = "locked"
	UserStatusDisabled UserStatus = "disabled"
)

// Role is the authorization role attached to a user
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Profile is the functional profile attached to a user
type Profile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is an account together with its role and profile
type User struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Login          string     `json:"login"`
	PasswordHash   string     `json:"-"` // never expose password hash
	Status         UserStatus `json:"status"`
	ScopeID        int64      `json:"scopeId"`
	Role           Role       `json:"role"`
	Profile        Profile    `json:"profile"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsLocked checks if the user account is currently locked
func (u *User) IsLocked(now time.Time) bool {
	if u.LockedUntil == nil {
		return false
	}
	return now.Before(*u.LockedUntil)
}

// IsActive checks if the user account is active
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
