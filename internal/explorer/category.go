package explorer

import (
	"fmt"
	"strings"
)

// Category is the closed set of explorer node kinds.
type Category string

const (
	CategoryTheme   Category = "theme"
	CategoryPerson  Category = "person"
	CategoryPlace   Category = "place"
	CategoryConcept Category = "concept"
)

var categories = []Category{CategoryTheme, CategoryPerson, CategoryPlace, CategoryConcept}

func (c Category) Valid() bool {
	switch c {
	case CategoryTheme, CategoryPerson, CategoryPlace, CategoryConcept:
		return true
	default:
		return false
	}
}

func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", value)
	}
	return c, nil
}

// UnmarshalText rejects anything outside the closed set, so config and
// metadata files cannot introduce orphan categories.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// NodeID derives the stable node id for a label.
func NodeID(category Category, name string) string {
	return string(category) + "-" + Slug(name)
}
