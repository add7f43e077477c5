package tags

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"leavn/api/internal/rbac"
	"leavn/api/internal/store"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// RemovalPolicy decides which associations a caller may delete.
type RemovalPolicy string

const (
	// RemoveOwnerOrPublic lets any tagger delete public rows and their own
	// personal rows.
	RemoveOwnerOrPublic RemovalPolicy = "owner-or-public"
	// RemoveOwnerOnly restricts deletion to the caller's personal rows.
	// Moderators may still delete public rows.
	RemoveOwnerOnly RemovalPolicy = "owner-only"
)

func ParseRemovalPolicy(value string) (RemovalPolicy, error) {
	switch RemovalPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", RemoveOwnerOrPublic:
		return RemoveOwnerOrPublic, nil
	case RemoveOwnerOnly:
		return RemoveOwnerOnly, nil
	default:
		return "", fmt.Errorf("unknown removal policy %q", value)
	}
}

// Actor is the caller of a service operation. A zero Actor is anonymous.
type Actor struct {
	UserID string
	Role   rbac.Role
}

func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

// Store is the persistence the service needs.
type Store interface {
	UsageStore
	AddAssociation(ctx context.Context, reference, tagName, category, ownerID string) (store.Association, store.Tag, bool, error)
	ListAssociations(ctx context.Context, reference, viewerID string) ([]store.TagView, error)
	GetTagByName(ctx context.Context, name string) (store.Tag, error)
	DeleteAssociations(ctx context.Context, reference, tagID string, scope store.DeleteScope) ([]string, error)
	ListReferencesByTag(ctx context.Context, tagName, viewerID string, limit int) ([]string, error)
	ListCatalog(ctx context.Context, viewerID string) ([]store.CatalogEntry, error)
}

// Index mirrors associations into a search backend. Writes are
// fire-and-forget; References falls back to the store on its own.
type Index interface {
	IndexAssociation(record store.AssociationRecord)
	DeleteAssociations(ids []string)
	References(ctx context.Context, tagName, viewerID string, limit int) ([]string, error)
}

// Recorder receives tagging events, typically for metrics.
type Recorder interface {
	AssociationAdded(personal, inserted bool)
	AssociationsRemoved(count int)
}

type nopRecorder struct{}

func (nopRecorder) AssociationAdded(bool, bool) {}
func (nopRecorder) AssociationsRemoved(int)     {}

type Options struct {
	Index    Index
	Policy   RemovalPolicy
	Logger   *zap.Logger
	Recorder Recorder
}

type Service struct {
	store    Store
	index    Index
	ranker   *Ranker
	policy   RemovalPolicy
	logger   *zap.Logger
	recorder Recorder
}

func NewService(st Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Policy
	if policy == "" {
		policy = RemoveOwnerOrPublic
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		store:    st,
		index:    opts.Index,
		ranker:   NewRanker(st, logger),
		policy:   policy,
		logger:   logger,
		recorder: recorder,
	}
}

func (s *Service) Policy() RemovalPolicy {
	return s.policy
}

// TagView is a tag attached to a reference.
type TagView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	IsPersonal bool   `json:"isPersonal"`
}

// Mutation is the envelope returned by add and remove.
type Mutation struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Tag       string `json:"tag"`
}

type AddInput struct {
	Reference string
	Tag       string
	Category  string
	Personal  bool
}

// ListTags returns the public tags on reference plus the actor's own.
func (s *Service) ListTags(ctx context.Context, actor Actor, reference string) ([]TagView, error) {
	if err := validateReference(reference); err != nil {
		return nil, err
	}
	rows, err := s.store.ListAssociations(ctx, reference, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	views := make([]TagView, 0, len(rows))
	for _, row := range rows {
		views = append(views, TagView{
			ID:         row.TagID,
			Name:       row.Name,
			Category:   row.Category,
			IsPersonal: row.OwnerID != "",
		})
	}
	return views, nil
}

// AddTag links a tag to a reference. Adding an existing association is a
// successful no-op.
func (s *Service) AddTag(ctx context.Context, actor Actor, in AddInput) (Mutation, error) {
	if err := authorize(actor, rbac.ActionTag); err != nil {
		return Mutation{}, err
	}
	if err := validateReference(in.Reference); err != nil {
		return Mutation{}, err
	}
	name := NormalizeName(in.Tag)
	if err := validateName(name); err != nil {
		return Mutation{}, err
	}
	category := NormalizeCategory(in.Category)
	if err := validateCategory(category); err != nil {
		return Mutation{}, err
	}

	ownerID := ""
	if in.Personal {
		ownerID = actor.UserID
	}
	assoc, tag, inserted, err := s.store.AddAssociation(ctx, in.Reference, name, category, ownerID)
	if err != nil {
		return Mutation{}, fmt.Errorf("add tag: %w", err)
	}
	s.recorder.AssociationAdded(in.Personal, inserted)

	if inserted && s.index != nil {
		s.index.IndexAssociation(store.AssociationRecord{
			ID:        assoc.ID,
			Reference: assoc.Reference,
			TagName:   tag.Name,
			Category:  tag.Category,
			OwnerID:   assoc.OwnerID,
			CreatedAt: assoc.CreatedAt,
		})
	}
	return Mutation{Success: true, Reference: in.Reference, Tag: tag.Name}, nil
}

// RemoveTag deletes the associations of tagName on reference that the
// removal policy lets the actor touch. Deleting nothing is NotFound.
func (s *Service) RemoveTag(ctx context.Context, actor Actor, reference, tagName string) (Mutation, error) {
	if err := authorize(actor, rbac.ActionTag); err != nil {
		return Mutation{}, err
	}
	if err := validateReference(reference); err != nil {
		return Mutation{}, err
	}
	name := NormalizeName(tagName)
	if err := validateName(name); err != nil {
		return Mutation{}, err
	}

	tag, err := s.store.GetTagByName(ctx, name)
	if store.IsNotFound(err) {
		return Mutation{}, newError(KindNotFound, "tag not found", nil)
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("lookup tag: %w", err)
	}

	scope := store.DeleteScope{OwnerID: actor.UserID}
	switch s.policy {
	case RemoveOwnerOnly:
		scope.IncludePublic = rbac.Can(actor.Role, rbac.ActionModerate)
	default:
		scope.IncludePublic = true
	}

	ids, err := s.store.DeleteAssociations(ctx, reference, tag.ID, scope)
	if err != nil {
		return Mutation{}, fmt.Errorf("remove tag: %w", err)
	}
	if len(ids) == 0 {
		return Mutation{}, newError(KindNotFound, "no removable association for this tag", nil)
	}
	s.recorder.AssociationsRemoved(len(ids))
	if s.index != nil {
		s.index.DeleteAssociations(ids)
	}
	return Mutation{Success: true, Reference: reference, Tag: tag.Name}, nil
}

// Recommend ranks tags used in the same chapter as reference.
func (s *Service) Recommend(ctx context.Context, reference string, limit int) []string {
	return s.ranker.Recommend(ctx, reference, limit)
}

// SearchReferences lists references carrying tagName visible to actor.
func (s *Service) SearchReferences(ctx context.Context, actor Actor, tagName string, limit int) ([]string, error) {
	name := NormalizeName(tagName)
	if name == "" {
		return nil, newError(KindValidation, "tag query parameter is required", nil)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	var (
		references []string
		err        error
	)
	if s.index != nil {
		references, err = s.index.References(ctx, name, actor.UserID, limit)
	} else {
		references, err = s.store.ListReferencesByTag(ctx, name, actor.UserID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search references: %w", err)
	}
	if references == nil {
		references = []string{}
	}
	return references, nil
}

// Catalog returns every tag grouped by category, with usage counts that only
// include associations visible to actor.
func (s *Service) Catalog(ctx context.Context, actor Actor) ([]CatalogGroup, error) {
	entries, err := s.store.ListCatalog(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	groups := make([]CatalogGroup, 0)
	index := make(map[string]int)
	for _, entry := range entries {
		i, ok := index[entry.Category]
		if !ok {
			i = len(groups)
			index[entry.Category] = i
			groups = append(groups, CatalogGroup{Category: entry.Category, Tags: []CatalogTag{}})
		}
		groups[i].Tags = append(groups[i].Tags, CatalogTag{
			ID:         entry.ID,
			Name:       entry.Name,
			Category:   entry.Category,
			UsageCount: entry.UsageCount,
		})
	}
	return groups, nil
}

func authorize(actor Actor, action rbac.Action) error {
	if !actor.Authenticated() {
		return newError(KindUnauthorized, "authentication required", nil)
	}
	if !rbac.Can(actor.Role, action) {
		return newError(KindForbidden, fmt.Sprintf("role %s cannot %s", actor.Role, action), nil)
	}
	return nil
}

func validateReference(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return newError(KindValidation, "reference is required", nil)
	}
	return nil
}
