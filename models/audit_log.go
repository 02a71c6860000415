package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionAccessDenied     AuditAction = "access_denied"
	AuditActionSuperAdminBypass AuditAction = "super_admin_bypass"
	AuditActionAdminAction      AuditAction = "admin_action"
	AuditActionAuditTamper      AuditAction = "audit_mutation_attempt"
)

// AuditOutcome is the authorization outcome recorded on an audit entry
type AuditOutcome string

const (
	OutcomeAllowed AuditOutcome = "allowed"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditLog represents an immutable audit trail entry
type AuditLog struct {
	ID         string          `json:"id" db:"id"` // ULID, sortable by creation
	ActorID    *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	TenantID   *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`
	Action     AuditAction     `json:"action" db:"action"`
	TargetType string          `json:"target_type" db:"target_type"`
	TargetID   string          `json:"target_id,omitempty" db:"target_id"`
	Outcome    AuditOutcome    `json:"outcome" db:"outcome"`
	Reason     string          `json:"reason" db:"reason"`
	Stage      string          `json:"stage,omitempty" db:"stage"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"` // JSONB for flexible diagnostics
	SourceIP   string          `json:"source_ip" db:"source_ip"`
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	RequestID  string          `json:"request_id" db:"request_id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`

	// Tamper-evidence chain
	ChainID  string `json:"chain_id" db:"chain_id"`
	Sequence int64  `json:"sequence" db:"sequence"`
	PrevHash string `json:"prev_hash" db:"prev_hash"`
	Hash     string `json:"hash" db:"hash"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance. ID, timestamp and chain fields are
// assigned by the audit writer.
func NewAuditLog(action AuditAction, outcome AuditOutcome, reason string) *AuditLog {
	return &AuditLog{
		Action:  action,
		Outcome: outcome,
		Reason:  reason,
	}
}

// WithActor sets the actor ID
func (a *AuditLog) WithActor(actorID uuid.UUID) *AuditLog {
	if actorID != uuid.Nil {
		a.ActorID = &actorID
	}
	return a
}

// WithTenant sets the tenant ID
func (a *AuditLog) WithTenant(tenantID uuid.UUID) *AuditLog {
	if tenantID != uuid.Nil {
		a.TenantID = &tenantID
	}
	return a
}

// WithTarget sets the target resource
func (a *AuditLog) WithTarget(targetType, targetID string) *AuditLog {
	a.TargetType = targetType
	a.TargetID = targetID
	return a
}

// WithStage sets the chain stage that produced the entry
func (a *AuditLog) WithStage(stage string) *AuditLog {
	a.Stage = stage
	return a
}

// WithMetadata sets the metadata
func (a *AuditLog) WithMetadata(metadata interface{}) *AuditLog {
	if data, err := json.Marshal(metadata); err == nil {
		a.Metadata = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, sourceIP, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.SourceIP = sourceIP
	a.UserAgent = userAgent
	return a
}
