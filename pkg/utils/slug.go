package utils

import (
	"strings"
	"unicode"

	"github.com/gosimple/slug"

	"github.com/leadwatch/core/pkg/models"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library.
// Swedish and other European letters are transliterated.
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}
	return slug.Make(text)
}

// NormalizeOrgNumber keeps only the digits of a registration number,
// so "556677-8899" and "5566778899" compare equal
func NormalizeOrgNumber(orgNumber string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, orgNumber)
}

// NaturalKey returns the dedup key of a search hit within a tenant.
// The registration number wins; the slugged name is the fallback.
// An empty result means the candidate cannot be identified.
func NaturalKey(c models.Candidate) string {
	if org := NormalizeOrgNumber(c.OrgNumber); org != "" {
		return "org:" + org
	}
	if name := NormalizeSlug(c.Name); name != "" {
		return "name:" + name
	}
	return ""
}
