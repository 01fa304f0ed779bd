package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/models"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		entityType string
		want       string
	}{
		{"character", TypeCharacter},
		{"  Person ", TypeCharacter},
		{"weapon", TypeObject},
		{"Item", TypeObject},
		{"place", TypeLocation},
		{"beast", TypeCreature},
		{"spaceship", TypeGeneric},
		{"", TypeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.entityType, func(t *testing.T) {
			tmpl, err := r.Resolve(tt.entityType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.EntityType)
		})
	}
}

func TestRegistry_RejectsMalformedType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("character; drop table")
	assert.ErrorIs(t, err, models.ErrUnsupportedEntityType)

	long := make([]byte, maxEntityTypeLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = r.Resolve(string(long))
	assert.ErrorIs(t, err, models.ErrUnsupportedEntityType)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(&Template{EntityType: "Vessel", Attributes: []AttributeSpec{{Key: "hullColor", Persistent: true}}})
	tmpl, err := r.Resolve("vessel")
	require.NoError(t, err)
	assert.Equal(t, []string{"hullColor"}, tmpl.Keys())
}

func TestTemplate_Queries(t *testing.T) {
	r := NewRegistry()
	loc, err := r.Resolve("location")
	require.NoError(t, err)
	spec, ok := loc.Spec("colorPalette")
	require.True(t, ok)
	assert.Equal(t, []string{"Harrow Keep color palette"}, loc.Queries("Harrow Keep", spec))

	char, err := r.Resolve("character")
	require.NoError(t, err)
	spec, ok = char.Spec("clothingStyleOrOutfit")
	require.True(t, ok)
	assert.False(t, spec.Persistent)
	assert.Contains(t, char.Queries("Mara", spec), "Mara wore")
	assert.Contains(t, char.Transient(), "clothingStyleOrOutfit")
	assert.NotContains(t, char.Transient(), "eyeColor")
}

func TestHumanizeKey(t *testing.T) {
	assert.Equal(t, "clothing style or outfit", HumanizeKey("clothingStyleOrOutfit"))
	assert.Equal(t, "build", HumanizeKey("build"))
}
