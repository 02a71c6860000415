package postgres

import (
	"fmt"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services/policy"
)

// Session settings bound by InPrincipalTransaction. Policies read them with
// current_setting(name, true) so an unbound session sees NULL and matches nothing.
const (
	settingTenantID    = "app.tenant_id"
	settingPrincipalID = "app.principal_id"
	settingRole        = "app.role"
	settingSuperAdmin  = "app.super_admin"
)

var (
	sqlSessionTenant    = fmt.Sprintf("NULLIF(current_setting('%s', true), '')::uuid", settingTenantID)
	sqlSessionPrincipal = fmt.Sprintf("NULLIF(current_setting('%s', true), '')::uuid", settingPrincipalID)
	sqlSuperAdmin       = fmt.Sprintf("COALESCE(current_setting('%s', true), '') = 'true'", settingSuperAdmin)
	sqlAdministrative   = fmt.Sprintf("current_setting('%s', true) IN ('%s', '%s')", settingRole, models.RoleOwner, models.RoleAdmin)
)

// table describes where a resource type lives and which columns carry its ownership
type table struct {
	name         string
	tenantColumn string
	ownerColumn  string // personal scope only
	parentTable  string // relationship-derived only
	parentColumn string
}

var resourceTables = map[models.ResourceType]table{
	models.ResourceTenant:          {name: "tenants", tenantColumn: "id"},
	models.ResourceContact:         {name: "contacts", tenantColumn: "tenant_id"},
	models.ResourceContactNote:     {name: "contact_notes", parentTable: "contacts", parentColumn: "contact_id"},
	models.ResourceBillingSettings: {name: "billing_settings", tenantColumn: "tenant_id"},
	models.ResourceUserPreference:  {name: "user_preferences", tenantColumn: "tenant_id", ownerColumn: "principal_id"},
	models.ResourceAuditLog:        {name: "audit_logs", tenantColumn: "tenant_id"},
}

// rlsPolicy is one CREATE POLICY statement. Empty using/check clauses are omitted.
type rlsPolicy struct {
	name    string
	command string
	using   string
	check   string
}

// RowLevelSecurity renders the row-level security statements for every registered resource
// type. The database enforces the same patterns as the policy engine, so a query that
// bypasses the service layer still cannot cross tenants.
func RowLevelSecurity(registry *policy.Registry) ([]string, error) {
	var out []string
	for _, rt := range registry.Types() {
		t, ok := resourceTables[rt]
		if !ok {
			return nil, fmt.Errorf("resource %s: no table mapping", rt)
		}
		pattern, _ := registry.Pattern(rt)
		policies, err := policiesFor(t, pattern)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rt, err)
		}

		out = append(out,
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", t.name),
			fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", t.name),
		)
		for _, p := range policies {
			out = append(out, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", p.name, t.name))
			out = append(out, p.render(t.name))
		}
	}
	return out, nil
}

func (p rlsPolicy) render(tableName string) string {
	stmt := fmt.Sprintf("CREATE POLICY %s ON %s FOR %s", p.name, tableName, p.command)
	if p.using != "" {
		stmt += fmt.Sprintf(" USING (%s)", p.using)
	}
	if p.check != "" {
		stmt += fmt.Sprintf(" WITH CHECK (%s)", p.check)
	}
	return stmt
}

func anyOf(clauses ...string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " OR "
		}
		out += "(" + c + ")"
	}
	return out
}

func policiesFor(t table, pattern models.PolicyPattern) ([]rlsPolicy, error) {
	prefix := t.name + "_"
	match := fmt.Sprintf("%s = %s", t.tenantColumn, sqlSessionTenant)
	member := anyOf(sqlSuperAdmin, match)
	admin := anyOf(sqlSuperAdmin, match+" AND "+sqlAdministrative)

	switch pattern {
	case models.PatternStandard:
		return []rlsPolicy{
			{name: prefix + "tenant_isolation", command: "ALL", using: member, check: member},
		}, nil

	case models.PatternAdminOnlyMutation:
		return []rlsPolicy{
			{name: prefix + "read", command: "SELECT", using: member},
			{name: prefix + "insert", command: "INSERT", check: admin},
			{name: prefix + "update", command: "UPDATE", using: admin, check: admin},
			{name: prefix + "delete", command: "DELETE", using: admin},
		}, nil

	case models.PatternRelationshipDerived:
		if t.parentTable == "" || t.parentColumn == "" {
			return nil, fmt.Errorf("relationship-derived table %s has no parent", t.name)
		}
		parent := fmt.Sprintf("EXISTS (SELECT 1 FROM %s p WHERE p.id = %s.%s AND p.tenant_id = %s)",
			t.parentTable, t.name, t.parentColumn, sqlSessionTenant)
		clause := anyOf(sqlSuperAdmin, parent)
		return []rlsPolicy{
			{name: prefix + "parent_tenant", command: "ALL", using: clause, check: clause},
		}, nil

	case models.PatternPersonalScope:
		if t.ownerColumn == "" {
			return nil, fmt.Errorf("personal-scope table %s has no owner column", t.name)
		}
		clause := anyOf(sqlSuperAdmin, fmt.Sprintf("%s = %s", t.ownerColumn, sqlSessionPrincipal))
		return []rlsPolicy{
			{name: prefix + "owner", command: "ALL", using: clause, check: clause},
		}, nil

	case models.PatternAppendOnly:
		// Inserts come from the audit writer, which acts for every tenant. No UPDATE or
		// DELETE policy exists, so both are refused for every session.
		return []rlsPolicy{
			{name: prefix + "read", command: "SELECT", using: member},
			{name: prefix + "append", command: "INSERT", check: "true"},
		}, nil

	case models.PatternRootEntity:
		return []rlsPolicy{
			{name: prefix + "read", command: "SELECT", using: member},
			{name: prefix + "update", command: "UPDATE", using: admin, check: admin},
			{name: prefix + "insert", command: "INSERT", check: sqlSuperAdmin},
			{name: prefix + "delete", command: "DELETE", using: sqlSuperAdmin},
		}, nil
	}
	return nil, fmt.Errorf("unknown policy pattern %q", pattern)
}
