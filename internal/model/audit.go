package model

import (
	"encoding/json"
	"time"
)

// ActionKind is the closed set of audited actions.
type ActionKind string

const (
	ActionCreate ActionKind = "CREATE"
	ActionRead   ActionKind = "READ"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
	ActionExport ActionKind = "EXPORT"
	ActionImport ActionKind = "IMPORT"
	ActionLogin  ActionKind = "LOGIN"
	ActionLogout ActionKind = "LOGOUT"
)

// Valid reports whether a is one of the known action kinds.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionExport, ActionImport, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// Outcome is the result status of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePartial Outcome = "PARTIAL"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// Origin describes the request an audited action came from.
type Origin struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// AuditRecord is one row of the append-only audit trail.
//
// Signature covers ActorID, ScopeID, Action, EntityType, EntityID and
// CreatedAt only. Before and After are stored alongside but are not signed.
type AuditRecord struct {
	ID           string          `json:"id"`
	ActorID      int64           `json:"actorId"`
	ScopeID      int64           `json:"scopeId"`
	Action       ActionKind      `json:"action"`
	EntityType   string          `json:"entityType"`
	EntityID     int64           `json:"entityId"`
	Description  string          `json:"description"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Outcome      Outcome         `json:"outcome"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	IPAddress    *string         `json:"ipAddress,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Signature    string          `json:"signature"`
}

// Well-known entity types used by the auth flows themselves.
const (
	EntityUser    = "User"
	EntitySession = "Session"
)
