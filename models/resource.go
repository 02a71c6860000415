package models

import (
	"fmt"

	"github.com/google/uuid"
)

// PolicyPattern describes how a resource type is scoped for authorization
type PolicyPattern string

const (
	PatternStandard            PolicyPattern = "standard"
	PatternAdminOnlyMutation   PolicyPattern = "admin_only_mutation"
	PatternRelationshipDerived PolicyPattern = "relationship_derived"
	PatternPersonalScope       PolicyPattern = "personal_scope"
	PatternAppendOnly          PolicyPattern = "append_only"
	PatternRootEntity          PolicyPattern = "root_entity"
)

// Valid reports whether the pattern is one of the fixed patterns
func (p PolicyPattern) Valid() bool {
	switch p {
	case PatternStandard, PatternAdminOnlyMutation, PatternRelationshipDerived,
		PatternPersonalScope, PatternAppendOnly, PatternRootEntity:
		return true
	}
	return false
}

// ResourceType names a kind of tenant-owned record
type ResourceType string

const (
	ResourceTenant          ResourceType = "tenant"
	ResourceContact         ResourceType = "contact"
	ResourceContactNote     ResourceType = "contact_note"
	ResourceBillingSettings ResourceType = "billing_settings"
	ResourceUserPreference  ResourceType = "user_preference"
	ResourceAuditLog        ResourceType = "audit_log"
)

// Operation is the kind of access being requested
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsWrite returns true for create, update and delete
func (o Operation) IsWrite() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// ParseOperation converts a string into an Operation
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpRead, OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// OwnedRecord is implemented by every tenant-owned record
type OwnedRecord interface {
	OwnerTenantID() uuid.UUID
}
