package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/taleweave/internal/models"
)

const weaponConfidence = 0.95

var weaponWords = regexp.MustCompile(`(?i)\b(sword|sabre|saber|blade|dagger|knife|dirk|axe|spear|lance|pike|halberd|mace|bow|crossbow|musket|rifle|pistol|revolver|gun|shotgun|carbine|blunderbuss|firearm|weapon|rapier|cutlass|scimitar|katana|claymore)s?\b`)

// IsWeaponLike reports whether the entity name or type names a weapon.
func IsWeaponLike(name, entityType string) bool {
	return weaponWords.MatchString(name) || weaponWords.MatchString(entityType)
}

type weaponRule struct {
	value   string
	pattern *regexp.Regexp
}

// weaponRules lists, per attribute, the mutually exclusive structural facts a
// text can state. A refinement applies only when exactly one rule matches.
var weaponRules = map[string][]weaponRule{
	"edgeType": {
		{"double-edged", regexp.MustCompile(`(?i)\b(double|two)[- ]edged\b`)},
		{"single-edged", regexp.MustCompile(`(?i)\b(single|one)[- ]edged\b`)},
	},
	"barrelCount": {
		{"1", regexp.MustCompile(`(?i)\b(single|one)[- ]barrel(l)?ed\b`)},
		{"2", regexp.MustCompile(`(?i)\b(double|twin|two)[- ]barrel(l)?ed\b|\btwo barrels\b`)},
		{"3", regexp.MustCompile(`(?i)\b(triple|three)[- ]barrel(l)?ed\b|\bthree barrels\b`)},
	},
	"actionType": {
		{"flintlock", regexp.MustCompile(`(?i)\bflint[- ]?lock\b`)},
		{"matchlock", regexp.MustCompile(`(?i)\bmatch[- ]?lock\b`)},
		{"wheellock", regexp.MustCompile(`(?i)\bwheel[- ]?lock\b`)},
		{"percussion", regexp.MustCompile(`(?i)\bpercussion([- ]cap)?\b`)},
		{"bolt-action", regexp.MustCompile(`(?i)\bbolt[- ]action\b`)},
		{"lever-action", regexp.MustCompile(`(?i)\blever[- ]action\b`)},
		{"pump-action", regexp.MustCompile(`(?i)\bpump[- ]action\b`)},
		{"break-action", regexp.MustCompile(`(?i)\bbreak[- ]action\b`)},
		{"semi-automatic", regexp.MustCompile(`(?i)\bsemi[- ]automatic\b`)},
	},
}

// RefineWeapon upgrades weapon-only attributes of tmpl from unambiguous
// statements in the context. Only fragments that mention a word of the
// entity name are considered. It returns the refined keys.
func RefineWeapon(attrs map[string]models.AttributeValue, tmpl *Template, entity string, frags []models.ScoredFragment) []string {
	terms := nameTerms(entity)
	var refined []string
	for _, spec := range tmpl.Attributes {
		rules, ok := weaponRules[spec.Key]
		if !ok || !spec.WeaponOnly {
			continue
		}
		value, ev, ok := matchRules(rules, terms, frags)
		if !ok {
			continue
		}
		if cur := attrs[spec.Key]; cur.HasValue() && !isFailed(cur) && cur.Confidence >= weaponConfidence {
			continue
		}
		attrs[spec.Key] = models.AttributeValue{
			Value:      models.StringPtr(value),
			Confidence: weaponConfidence,
			TimeState:  models.TimeConstant,
			Evidence:   []models.Evidence{ev},
			Notes:      "pattern match",
		}
		refined = append(refined, spec.Key)
	}
	return refined
}

func matchRules(rules []weaponRule, terms []string, frags []models.ScoredFragment) (string, models.Evidence, bool) {
	var (
		found string
		ev    models.Evidence
	)
	for _, sf := range frags {
		f := sf.Fragment
		if !mentions(f.Text, terms) {
			continue
		}
		for _, r := range rules {
			loc := r.pattern.FindStringIndex(f.Text)
			if loc == nil {
				continue
			}
			if found != "" && found != r.value {
				return "", models.Evidence{}, false
			}
			if found == "" {
				found = r.value
				ev = models.Evidence{Quote: excerpt(f.Text, loc[0], loc[1]), DocumentID: f.DocumentID, Location: location(f)}
			}
		}
	}
	return found, ev, found != ""
}

// nameTerms returns the lowercased words of name of three or more letters.
func nameTerms(name string) []string {
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 && w != "the" {
			terms = append(terms, w)
		}
	}
	return terms
}

func mentions(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// excerpt returns the sentence-sized span of text around [start,end).
func excerpt(text string, start, end int) string {
	const reach = 80
	from := strings.LastIndexAny(text[:start], ".!?\n")
	if from == -1 || start-from > reach {
		from = max(0, start-reach)
	} else {
		from++
	}
	to := strings.IndexAny(text[end:], ".!?\n")
	if to == -1 || to > reach {
		to = min(len(text), end+reach)
	} else {
		to = end + to + 1
	}
	return strings.TrimSpace(strings.ToValidUTF8(text[from:to], ""))
}

func location(f *models.Fragment) string {
	if f.GlobalSceneIndex != nil {
		return "scene " + strconv.Itoa(*f.GlobalSceneIndex)
	}
	return string(f.Layer)
}
