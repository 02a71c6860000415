package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a principal within its tenant
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleViewer Role = "viewer"
)

// roleRanks orders the fixed role hierarchy (higher outranks lower)
var roleRanks = map[Role]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleAgent:  2,
	RoleViewer: 1,
}

// ParseRole converts stored role data into a Role, rejecting anything outside the hierarchy
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the position of the role in the hierarchy (0 for unknown roles)
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether r is equal to or above other in the hierarchy
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

// IsAdministrative returns true for owner and admin
func (r Role) IsAdministrative() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Permission is an explicit capability string
type Permission string

const (
	PermManageBilling  Permission = "manage_billing"
	PermManageMembers  Permission = "manage_members"
	PermManageContacts Permission = "manage_contacts"
	PermViewContacts   Permission = "view_contacts"
	PermViewAudit      Permission = "view_audit"
	PermManageTenant   Permission = "manage_tenant"
)

var knownPermissions = map[Permission]struct{}{
	PermManageBilling:  {},
	PermManageMembers:  {},
	PermManageContacts: {},
	PermViewContacts:   {},
	PermViewAudit:      {},
	PermManageTenant:   {},
}

// roleBundles are the default permissions granted by each role
var roleBundles = map[Role][]Permission{
	RoleOwner:  {PermManageBilling, PermManageMembers, PermManageContacts, PermViewContacts, PermViewAudit, PermManageTenant},
	RoleAdmin:  {PermManageBilling, PermManageMembers, PermManageContacts, PermViewContacts, PermViewAudit},
	RoleAgent:  {PermManageContacts, PermViewContacts},
	RoleViewer: {PermViewContacts},
}

// PermissionSet is an immutable-by-convention set of permissions
type PermissionSet map[Permission]struct{}

// ParsePermissions validates raw permission strings against the known catalogue
func ParsePermissions(raw []string) (PermissionSet, error) {
	set := make(PermissionSet, len(raw))
	for _, s := range raw {
		p := Permission(strings.TrimSpace(s))
		if p == "" {
			continue
		}
		if _, ok := knownPermissions[p]; !ok {
			return nil, fmt.Errorf("unknown permission %q", s)
		}
		set[p] = struct{}{}
	}
	return set, nil
}

// BundleFor returns the default permission set for a role
func BundleFor(role Role) PermissionSet {
	set := make(PermissionSet)
	for _, p := range roleBundles[role] {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains p
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether the set contains every permission in ps
func (s PermissionSet) HasAll(ps ...Permission) bool {
	for _, p := range ps {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Union returns a new set containing the permissions of both sets
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Clone returns a copy of the set
func (s PermissionSet) Clone() PermissionSet {
	return s.Union(nil)
}

// Strings returns the permissions as a sorted slice
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Principal represents an authenticated actor as stored by the principal lookup
type Principal struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ExternalID   string     `json:"external_id" db:"external_id"` // identity provider subject
	Email        string     `json:"email" db:"email"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"` // nil only for super-admins
	Role         string     `json:"role" db:"role"`                     // validated by ParseRole at resolution time
	Permissions  []string   `json:"permissions" db:"permissions"`
	IsSuperAdmin bool       `json:"is_super_admin" db:"is_super_admin"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Principal model
func (Principal) TableName() string {
	return "principals"
}

// NewPrincipal creates a new tenant-scoped Principal instance
func NewPrincipal(externalID, email string, tenantID uuid.UUID, role Role) *Principal {
	now := time.Now()
	return &Principal{
		ID:         uuid.New(),
		ExternalID: externalID,
		Email:      email,
		TenantID:   &tenantID,
		Role:       string(role),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
