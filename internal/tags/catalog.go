package tags

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultCategory = "custom"

	maxNameLength     = 64
	maxCategoryLength = 32
)

// NormalizeName returns the catalog form of a tag name: trimmed and lowercased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeCategory lowercases category and substitutes DefaultCategory for blanks.
func NormalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return DefaultCategory
	}
	return category
}

func validateName(name string) error {
	if name == "" {
		return newError(KindValidation, "tag is required", nil)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return newError(KindValidation, "tag must be at most 64 characters", nil)
	}
	return nil
}

func validateCategory(category string) error {
	if utf8.RuneCountInString(category) > maxCategoryLength {
		return newError(KindValidation, "category must be at most 32 characters", nil)
	}
	return nil
}

// CatalogTag is one catalog row with the usage visible to the requester.
type CatalogTag struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	UsageCount int    `json:"usageCount"`
}

// CatalogGroup collects the catalog tags sharing a category.
type CatalogGroup struct {
	Category string       `json:"category"`
	Tags     []CatalogTag `json:"tags"`
}
