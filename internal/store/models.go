package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// Tag is a catalog entry. Names are stored lowercased and are unique.
type Tag struct {
	ID        string
	Name      string
	Category  string
	CreatedAt time.Time
}

// Association links a tag to a reference. An empty OwnerID marks a public row.
type Association struct {
	ID        string
	Reference string
	TagID     string
	OwnerID   string
	CreatedAt time.Time
}

func (a Association) IsPublic() bool {
	return a.OwnerID == ""
}

// TagView is a tag as seen on one reference.
type TagView struct {
	AssociationID string
	TagID         string
	Name          string
	Category      string
	OwnerID       string
}

// TagUsage is one association row inside a chapter, joined with its tag.
type TagUsage struct {
	Reference    string
	TagID        string
	TagName      string
	TagCreatedAt time.Time
}

type CatalogEntry struct {
	Tag
	UsageCount int
}

// AssociationRecord is the denormalized row pushed to the search index.
type AssociationRecord struct {
	ID        string
	Reference string
	TagName   string
	Category  string
	OwnerID   string
	CreatedAt time.Time
}

// DeleteScope selects which owners' rows a delete may touch.
type DeleteScope struct {
	OwnerID       string
	IncludePublic bool
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
