package model

import (
	"time"
)

// SessionEventsChannel is the Redis channel session lifecycle events are published on
const SessionEventsChannel = "authcore:session_events"

// SessionEvent is published when a session ends, so other instances can drop caches
type SessionEvent struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"userId"`
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
	At        time.Time `json:"at"`
}

// SessionInfo describes the caller's current access token
type SessionInfo struct {
	UserID              int64     `json:"userId"`
	Login               string    `json:"login"`
	RoleName            string    `json:"roleName"`
	ProfileName         string    `json:"profileName"`
	TokenID             string    `json:"tokenId"`
	IssuedAt            time.Time `json:"issuedAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	ExpiresIn           int64     `json:"expiresIn"`
	InactivityExpiresIn int64     `json:"inactivityExpiresIn"`
}
