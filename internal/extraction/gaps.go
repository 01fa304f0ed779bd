package extraction

import (
	"strings"

	"github.com/hyperjump/taleweave/internal/models"
)

// vagueMarkers are answers that carry no information. A value is vague when it
// is a marker or starts with one followed by a qualifier ("unclear from context").
var vagueMarkers = []string{
	"not specified",
	"unspecified",
	"unclear",
	"unknown",
	"not mentioned",
	"not stated",
	"not described",
	"none given",
	"n/a",
}

// IsPoor reports whether v needs refinement: no value, a confidence at or
// below threshold, or a vague placeholder answer.
func IsPoor(v models.AttributeValue, threshold float64) bool {
	if !v.HasValue() || v.Confidence <= threshold {
		return true
	}
	return isVague(*v.Value)
}

func isVague(value string) bool {
	v := strings.Trim(strings.ToLower(strings.TrimSpace(value)), ".")
	for _, m := range vagueMarkers {
		if v == m {
			return true
		}
		if rest, ok := strings.CutPrefix(v, m); ok && strings.IndexAny(rest[:1], " ,;:(-") == 0 {
			return true
		}
	}
	return false
}

// FindGaps returns the attributes to refine, in template order. Weapon-only
// attributes are skipped unless weaponLike, and at most max are returned.
func FindGaps(tmpl *Template, attrs map[string]models.AttributeValue, weaponLike bool, threshold float64, max int) []AttributeSpec {
	var gaps []AttributeSpec
	for _, spec := range tmpl.Attributes {
		if max > 0 && len(gaps) == max {
			break
		}
		if spec.WeaponOnly && !weaponLike {
			continue
		}
		if IsPoor(attrs[spec.Key], threshold) {
			gaps = append(gaps, spec)
		}
	}
	return gaps
}
