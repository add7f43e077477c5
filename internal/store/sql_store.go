package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leavn/api/internal/util"
)

type SQLStore struct {
	db  *DB
	now func() time.Time
}

func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// SetClock replaces the time source used for created_at columns.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLStore) DB() *DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindOrCreateTag resolves a catalog tag by name, inserting it when absent.
// Concurrent callers with the same name converge on one row.
func (s *SQLStore) FindOrCreateTag(ctx context.Context, name, category string) (Tag, error) {
	return s.findOrCreateTag(ctx, s.db.DB, name, category)
}

func (s *SQLStore) findOrCreateTag(ctx context.Context, q querier, name, category string) (Tag, error) {
	_, err := q.ExecContext(ctx, s.db.rebind(`
		INSERT INTO tags (id, name, category, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`), util.NewID("tag"), name, category, s.now().UnixNano())
	if err != nil {
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	tag, err := s.getTagByName(ctx, q, name)
	if err != nil {
		return Tag{}, fmt.Errorf("read tag: %w", err)
	}
	return tag, nil
}

// GetTagByName returns sql.ErrNoRows when the catalog has no such tag.
func (s *SQLStore) GetTagByName(ctx context.Context, name string) (Tag, error) {
	return s.getTagByName(ctx, s.db.DB, name)
}

func (s *SQLStore) getTagByName(ctx context.Context, q querier, name string) (Tag, error) {
	var tag Tag
	var createdAt int64
	err := q.QueryRowContext(ctx, s.db.rebind(`
		SELECT id, name, category, created_at FROM tags WHERE name = ?
	`), name).Scan(&tag.ID, &tag.Name, &tag.Category, &createdAt)
	if err != nil {
		return Tag{}, err
	}
	tag.CreatedAt = fromUnixNano(createdAt)
	return tag, nil
}

// AddAssociation resolves the tag and links it to reference in one
// transaction. inserted is false when the (reference, tag, owner) triple
// already existed; the existing row is returned in that case.
func (s *SQLStore) AddAssociation(ctx context.Context, reference, tagName, category, ownerID string) (assoc Association, tag Tag, inserted bool, err error) {
	err = s.db.withTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		tag, txErr = s.findOrCreateTag(ctx, tx, tagName, category)
		if txErr != nil {
			return txErr
		}

		candidate := Association{
			ID:        util.NewID("asc"),
			Reference: reference,
			TagID:     tag.ID,
			OwnerID:   ownerID,
			CreatedAt: s.now().UTC(),
		}
		result, txErr := tx.ExecContext(ctx, s.db.rebind(`
			INSERT INTO tag_associations (id, reference, tag_id, owner_id, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (reference, tag_id, owner_id) DO NOTHING
		`), candidate.ID, candidate.Reference, candidate.TagID, candidate.OwnerID, candidate.CreatedAt.UnixNano())
		if txErr != nil {
			return fmt.Errorf("insert association: %w", txErr)
		}
		affected, txErr := result.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("insert association rows: %w", txErr)
		}
		if affected > 0 {
			assoc = candidate
			inserted = true
			return nil
		}

		var createdAt int64
		txErr = tx.QueryRowContext(ctx, s.db.rebind(`
			SELECT id, created_at FROM tag_associations
			WHERE reference = ? AND tag_id = ? AND owner_id = ?
		`), reference, tag.ID, ownerID).Scan(&assoc.ID, &createdAt)
		if txErr != nil {
			return fmt.Errorf("read association: %w", txErr)
		}
		assoc.Reference = reference
		assoc.TagID = tag.ID
		assoc.OwnerID = ownerID
		assoc.CreatedAt = fromUnixNano(createdAt)
		return nil
	})
	return assoc, tag, inserted, err
}

// ListAssociations returns the public tags on reference plus the personal
// tags owned by viewerID, in insertion order.
func (s *SQLStore) ListAssociations(ctx context.Context, reference, viewerID string) ([]TagView, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT a.id, t.id, t.name, t.category, a.owner_id
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		WHERE a.reference = ? AND (a.owner_id = '' OR a.owner_id = ?)
		ORDER BY a.created_at ASC, a.id ASC
	`), reference, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	defer rows.Close()

	items := make([]TagView, 0)
	for rows.Next() {
		var item TagView
		if err := rows.Scan(&item.AssociationID, &item.TagID, &item.Name, &item.Category, &item.OwnerID); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}
	return items, nil
}

// DeleteAssociations removes the (reference, tag) rows permitted by scope and
// returns the ids it deleted.
func (s *SQLStore) DeleteAssociations(ctx context.Context, reference, tagID string, scope DeleteScope) ([]string, error) {
	var owners []string
	args := []any{reference, tagID}
	if scope.OwnerID != "" {
		owners = append(owners, "owner_id = ?")
		args = append(args, scope.OwnerID)
	}
	if scope.IncludePublic {
		owners = append(owners, "owner_id = ''")
	}
	if len(owners) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		DELETE FROM tag_associations
		WHERE reference = ? AND tag_id = ? AND (%s)
		RETURNING id
	`, strings.Join(owners, " OR "))
	rows, err := s.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("delete associations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted association: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted associations: %w", err)
	}
	return ids, nil
}

// ListChapterUsage returns every association inside chapter, i.e. whose
// reference starts with chapter followed by ':'. Matching is case-sensitive.
func (s *SQLStore) ListChapterUsage(ctx context.Context, chapter string) ([]TagUsage, error) {
	prefix := chapter + ":"
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT a.reference, t.id, t.name, t.created_at
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		WHERE a.reference LIKE ? ESCAPE '\'
		ORDER BY a.created_at ASC, a.id ASC
	`), escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list chapter usage: %w", err)
	}
	defer rows.Close()

	items := make([]TagUsage, 0)
	for rows.Next() {
		var item TagUsage
		var createdAt int64
		if err := rows.Scan(&item.Reference, &item.TagID, &item.TagName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chapter usage: %w", err)
		}
		// SQLite LIKE folds ASCII case; references are case-sensitive.
		if !strings.HasPrefix(item.Reference, prefix) {
			continue
		}
		item.TagCreatedAt = fromUnixNano(createdAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter usage: %w", err)
	}
	return items, nil
}

// ListReferencesByTag returns distinct references carrying tagName that are
// visible to viewerID, ordered by first use.
func (s *SQLStore) ListReferencesByTag(ctx context.Context, tagName, viewerID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT a.reference, MIN(a.created_at) AS first_used
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		WHERE t.name = ? AND (a.owner_id = '' OR a.owner_id = ?)
		GROUP BY a.reference
		ORDER BY first_used ASC, a.reference ASC
		LIMIT ?
	`), tagName, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list references by tag: %w", err)
	}
	defer rows.Close()

	references := make([]string, 0)
	for rows.Next() {
		var reference string
		var firstUsed int64
		if err := rows.Scan(&reference, &firstUsed); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		references = append(references, reference)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return references, nil
}

// ListCatalog returns every tag with the number of associations visible to
// viewerID, ordered by category then name.
func (s *SQLStore) ListCatalog(ctx context.Context, viewerID string) ([]CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT t.id, t.name, t.category, t.created_at,
			COALESCE(SUM(CASE WHEN a.id IS NOT NULL AND (a.owner_id = '' OR a.owner_id = ?) THEN 1 ELSE 0 END), 0) AS usage_count
		FROM tags t
		LEFT JOIN tag_associations a ON a.tag_id = t.id
		GROUP BY t.id, t.name, t.category, t.created_at
		ORDER BY t.category ASC, t.name ASC
	`), viewerID)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	items := make([]CatalogEntry, 0)
	for rows.Next() {
		var item CatalogEntry
		var createdAt, usage int64
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &createdAt, &usage); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		item.CreatedAt = fromUnixNano(createdAt)
		item.UsageCount = int(usage)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return items, nil
}

// ListAllAssociations loads every association for a full search reindex.
func (s *SQLStore) ListAllAssociations(ctx context.Context) ([]AssociationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.reference, t.name, t.category, a.owner_id, a.created_at
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		ORDER BY a.created_at ASC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load associations: %w", err)
	}
	defer rows.Close()

	records := make([]AssociationRecord, 0)
	for rows.Next() {
		var record AssociationRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.Reference, &record.TagName, &record.Category, &record.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan association record: %w", err)
		}
		record.CreatedAt = fromUnixNano(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate association records: %w", err)
	}
	return records, nil
}

// IsNotFound reports whether err is a missing-row error from this package.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
