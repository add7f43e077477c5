package search

import (
	"context"
	"time"

	"leavn/api/internal/store"
)

const (
	VisibilityPublic   = "public"
	VisibilityPersonal = "personal"
)

// Record is the document stored in the association index.
type Record struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	Tag        string `json:"tag"`
	Category   string `json:"category"`
	OwnerID    string `json:"ownerId"`
	Visibility string `json:"visibility"`
	CreatedAt  int64  `json:"createdAt"`
}

func RecordFrom(a store.AssociationRecord) Record {
	visibility := VisibilityPublic
	if a.OwnerID != "" {
		visibility = VisibilityPersonal
	}
	return Record{
		ID:         a.ID,
		Reference:  a.Reference,
		Tag:        a.TagName,
		Category:   a.Category,
		OwnerID:    a.OwnerID,
		Visibility: visibility,
		CreatedAt:  a.CreatedAt.UTC().UnixNano(),
	}
}

func (r Record) Time() time.Time {
	return time.Unix(0, r.CreatedAt).UTC()
}

// Query asks for the references carrying Tag that ViewerID may see.
type Query struct {
	Tag      string
	ViewerID string
	Limit    int
}

// Backend is a search engine holding association records.
type Backend interface {
	Healthy() bool
	IndexRecords(ctx context.Context, records []Record) error
	DeleteRecords(ctx context.Context, ids []string) error
	// ClearRecords drops every record ahead of a full rebuild.
	ClearRecords(ctx context.Context) error
	References(ctx context.Context, q Query) ([]string, error)
}

// Fallback answers reference queries straight from the database.
type Fallback interface {
	ListReferencesByTag(ctx context.Context, tagName, viewerID string, limit int) ([]string, error)
	ListAllAssociations(ctx context.Context) ([]store.AssociationRecord, error)
}
