package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/models"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(models.ResourceContact, models.PatternStandard))

	err := r.Register(models.ResourceContact, models.PatternAppendOnly)
	assert.Error(t, err, "one pattern per resource type")

	err = r.Register(models.ResourceBillingSettings, "custom")
	assert.Error(t, err)

	err = r.Register("", models.PatternStandard)
	assert.Error(t, err)

	p, ok := r.Pattern(models.ResourceContact)
	assert.True(t, ok)
	assert.Equal(t, models.PatternStandard, p)
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	assert.Error(t, r.Register(models.ResourceContact, models.PatternStandard))
	_, ok := r.Pattern(models.ResourceContact)
	assert.False(t, ok)
}

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	require.NoError(t, err)

	expected := map[models.ResourceType]models.PolicyPattern{
		models.ResourceTenant:          models.PatternRootEntity,
		models.ResourceContact:         models.PatternStandard,
		models.ResourceContactNote:     models.PatternRelationshipDerived,
		models.ResourceBillingSettings: models.PatternAdminOnlyMutation,
		models.ResourceUserPreference:  models.PatternPersonalScope,
		models.ResourceAuditLog:        models.PatternAppendOnly,
	}
	for typ, want := range expected {
		got, ok := r.Pattern(typ)
		assert.True(t, ok, typ)
		assert.Equal(t, want, got, typ)
	}
	assert.Len(t, r.Types(), len(expected))

	assert.Error(t, r.Register("widget", models.PatternStandard), "default registry is frozen")
}
