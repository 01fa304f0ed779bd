// Package extraction answers "what does X look like" for an entity of a book.
// It retrieves context fragments in two passes, asks an LLM for a fixed set of
// attributes chosen by entity type and reconciles the answers across documents
// and against the requested moment of the story.
package extraction

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/hyperjump/taleweave/internal/models"
)

const (
	TypeCharacter = "character"
	TypeObject    = "object"
	TypeLocation  = "location"
	TypeCreature  = "creature"
	TypeGeneric   = "generic"
)

// maxEntityTypeLen bounds a free-form entity type.
const maxEntityTypeLen = 64

// AttributeSpec describes one attribute a template asks for.
type AttributeSpec struct {
	Key string
	// Persistent attributes rarely change over a story (eye colour); the others
	// are transient and only answered from the focus window when one exists.
	Persistent bool
	// WeaponOnly attributes are only refined for weapon-like entities.
	WeaponOnly bool
	// TimeBound attributes use windowed retrieval during refinement.
	TimeBound bool
}

// QueryBuilder returns the targeted retrieval queries for one attribute.
type QueryBuilder func(entity string, attr AttributeSpec) []string

// Template is the attribute set for an entity type.
type Template struct {
	EntityType   string
	Attributes   []AttributeSpec
	QueryBuilder QueryBuilder
}

// Keys returns the attribute keys in template order.
func (t *Template) Keys() []string {
	keys := make([]string, len(t.Attributes))
	for i, a := range t.Attributes {
		keys[i] = a.Key
	}
	return keys
}

// Spec returns the attribute named key.
func (t *Template) Spec(key string) (AttributeSpec, bool) {
	for _, a := range t.Attributes {
		if a.Key == key {
			return a, true
		}
	}
	return AttributeSpec{}, false
}

// Transient returns the keys of non-persistent attributes.
func (t *Template) Transient() []string {
	var keys []string
	for _, a := range t.Attributes {
		if !a.Persistent {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

// Queries returns the refinement queries for attr. Without a QueryBuilder, or
// when it returns nothing, the query is "{entity} {attribute words}".
func (t *Template) Queries(entity string, attr AttributeSpec) []string {
	if t.QueryBuilder != nil {
		if qs := t.QueryBuilder(entity, attr); len(qs) > 0 {
			return qs
		}
	}
	return []string{entity + " " + HumanizeKey(attr.Key)}
}

// Registry maps normalized entity types to templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	aliases   map[string]string
}

// NewRegistry returns a registry holding the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{
		templates: make(map[string]*Template),
		aliases: map[string]string{
			"person":   TypeCharacter,
			"people":   TypeCharacter,
			"human":    TypeCharacter,
			"npc":      TypeCharacter,
			"item":     TypeObject,
			"artifact": TypeObject,
			"artefact": TypeObject,
			"weapon":   TypeObject,
			"vehicle":  TypeObject,
			"thing":    TypeObject,
			"place":    TypeLocation,
			"setting":  TypeLocation,
			"building": TypeLocation,
			"city":     TypeLocation,
			"room":     TypeLocation,
			"animal":   TypeCreature,
			"beast":    TypeCreature,
			"monster":  TypeCreature,
			"mount":    TypeCreature,
			"other":    TypeGeneric,
			"unknown":  TypeGeneric,
			"entity":   TypeGeneric,
		},
	}
	for _, t := range []*Template{characterTemplate(), objectTemplate(), locationTemplate(), creatureTemplate(), genericTemplate()} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the template for t.EntityType.
func (r *Registry) Register(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[NormalizeType(t.EntityType)] = t
}

// Resolve returns the template for entityType. Known aliases map to their
// canonical type and anything else uses the generic template. A type that is
// not a plain word or phrase is rejected with ErrUnsupportedEntityType.
func (r *Registry) Resolve(entityType string) (*Template, error) {
	norm := NormalizeType(entityType)
	if len(norm) > maxEntityTypeLen || !validType(norm) {
		return nil, fmt.Errorf("%q: %w", entityType, models.ErrUnsupportedEntityType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[norm]; ok {
		norm = canonical
	}
	if t, ok := r.templates[norm]; ok {
		return t, nil
	}
	return r.templates[TypeGeneric], nil
}

// NormalizeType lowercases and trims an entity type.
func NormalizeType(entityType string) string {
	return strings.ToLower(strings.TrimSpace(entityType))
}

func validType(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// HumanizeKey turns "clothingStyleOrOutfit" into "clothing style or outfit".
func HumanizeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func characterTemplate() *Template {
	return &Template{
		EntityType: TypeCharacter,
		Attributes: []AttributeSpec{
			{Key: "hairColor", Persistent: true},
			{Key: "hairStyle", TimeBound: true},
			{Key: "eyeColor", Persistent: true},
			{Key: "skinTone", Persistent: true},
			{Key: "build", Persistent: true},
			{Key: "height", Persistent: true},
			{Key: "apparentAge", Persistent: true},
			{Key: "species", Persistent: true},
			{Key: "distinguishingMarks", Persistent: true},
			{Key: "facialHair", TimeBound: true},
			{Key: "clothingStyleOrOutfit", TimeBound: true},
			{Key: "accessories", TimeBound: true},
			{Key: "injuries", TimeBound: true},
			{Key: "carriedWeapon", TimeBound: true},
		},
		QueryBuilder: func(entity string, attr AttributeSpec) []string {
			switch attr.Key {
			case "hairColor", "hairStyle":
				return []string{entity + " hair", entity + " braid curls locks"}
			case "eyeColor":
				return []string{entity + " eyes", entity + " gaze"}
			case "build", "height":
				return []string{entity + " tall short broad slender", entity + " stature"}
			case "distinguishingMarks":
				return []string{entity + " scar", entity + " tattoo birthmark"}
			case "clothingStyleOrOutfit":
				return []string{entity + " wore", entity + " dressed in cloak coat gown"}
			case "injuries":
				return []string{entity + " wound bleeding", entity + " bandaged limped"}
			case "carriedWeapon":
				return []string{entity + " sword blade", entity + " gun pistol musket"}
			}
			return nil
		},
	}
}

func objectTemplate() *Template {
	return &Template{
		EntityType: TypeObject,
		Attributes: []AttributeSpec{
			{Key: "material", Persistent: true},
			{Key: "color", Persistent: true},
			{Key: "size", Persistent: true},
			{Key: "shape", Persistent: true},
			{Key: "markings", Persistent: true},
			{Key: "condition", TimeBound: true},
			{Key: "edgeType", Persistent: true, WeaponOnly: true},
			{Key: "bladeLength", Persistent: true, WeaponOnly: true},
			{Key: "barrelCount", Persistent: true, WeaponOnly: true},
			{Key: "actionType", Persistent: true, WeaponOnly: true},
		},
		QueryBuilder: func(entity string, attr AttributeSpec) []string {
			switch attr.Key {
			case "edgeType", "bladeLength":
				return []string{entity + " blade edge", entity + " edged sharp"}
			case "barrelCount":
				return []string{entity + " barrel", entity + " barrelled"}
			case "actionType":
				return []string{entity + " lock action", entity + " flintlock percussion"}
			case "condition":
				return []string{entity + " rusted worn broken", entity + " polished new"}
			}
			return nil
		},
	}
}

func locationTemplate() *Template {
	return &Template{
		EntityType: TypeLocation,
		Attributes: []AttributeSpec{
			{Key: "terrain", Persistent: true},
			{Key: "architecture", Persistent: true},
			{Key: "size", Persistent: true},
			{Key: "landmarks", Persistent: true},
			{Key: "colorPalette", Persistent: true},
			{Key: "lighting", TimeBound: true},
			{Key: "weather", TimeBound: true},
			{Key: "condition", TimeBound: true},
			{Key: "atmosphere", TimeBound: true},
		},
	}
}

func creatureTemplate() *Template {
	return &Template{
		EntityType: TypeCreature,
		Attributes: []AttributeSpec{
			{Key: "species", Persistent: true},
			{Key: "size", Persistent: true},
			{Key: "coloring", Persistent: true},
			{Key: "covering", Persistent: true},
			{Key: "distinguishingFeatures", Persistent: true},
			{Key: "condition", TimeBound: true},
			{Key: "gear", TimeBound: true},
		},
	}
}

func genericTemplate() *Template {
	return &Template{
		EntityType: TypeGeneric,
		Attributes: []AttributeSpec{
			{Key: "overallAppearance", Persistent: true},
			{Key: "color", Persistent: true},
			{Key: "size", Persistent: true},
			{Key: "material", Persistent: true},
			{Key: "distinguishingFeatures", Persistent: true},
			{Key: "condition", TimeBound: true},
			{Key: "edgeType", Persistent: true, WeaponOnly: true},
			{Key: "barrelCount", Persistent: true, WeaponOnly: true},
			{Key: "actionType", Persistent: true, WeaponOnly: true},
		},
	}
}
