package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadwatch/core/pkg/models"
)

func TestNormalizeSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic text with spaces",
			input:    "Hello World",
			expected: "hello-world",
		},
		{
			name:     "Swedish characters",
			input:    "Göteborgs Ångfartyg",
			expected: "goteborgs-angfartyg",
		},
		{
			name:     "German special characters",
			input:    "Bayern München",
			expected: "bayern-munchen",
		},
		{
			name:     "Company suffix and punctuation",
			input:    "Acme Bygg AB.",
			expected: "acme-bygg-ab",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSlug(tt.input))
		})
	}
}

func TestNormalizeOrgNumber(t *testing.T) {
	assert.Equal(t, "5566778899", NormalizeOrgNumber("556677-8899"))
	assert.Equal(t, "5566778899", NormalizeOrgNumber(" 5566778899 "))
	assert.Equal(t, "", NormalizeOrgNumber("n/a"))
}

func TestNaturalKey(t *testing.T) {
	tests := []struct {
		name      string
		candidate models.Candidate
		expected  string
	}{
		{
			name:      "org number wins over name",
			candidate: models.Candidate{OrgNumber: "556677-8899", Name: "Acme AB"},
			expected:  "org:5566778899",
		},
		{
			name:      "name fallback",
			candidate: models.Candidate{Name: "Acme Bygg AB"},
			expected:  "name:acme-bygg-ab",
		},
		{
			name:      "unidentifiable",
			candidate: models.Candidate{Website: "https://example.com"},
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NaturalKey(tt.candidate))
		})
	}
}

func TestNaturalKey_SameCompanyDifferentFormatting(t *testing.T) {
	a := NaturalKey(models.Candidate{OrgNumber: "556677-8899", Name: "Acme"})
	b := NaturalKey(models.Candidate{OrgNumber: "5566778899", Name: "ACME AB"})
	assert.Equal(t, a, b)
}
