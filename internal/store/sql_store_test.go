package store

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "leavn.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	s := NewSQLStore(db)
	// Strictly increasing clock so insertion order is observable.
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return s
}

func countRows(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var count int
	if err := s.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestDetectDialect(t *testing.T) {
	cases := []struct {
		in      string
		dialect Dialect
		driver  string
		dsn     string
	}{
		{in: "postgres://u:p@localhost/db", dialect: DialectPostgres, driver: "pgx", dsn: "postgres://u:p@localhost/db"},
		{in: "postgresql://localhost/db", dialect: DialectPostgres, driver: "pgx", dsn: "postgresql://localhost/db"},
		{in: "sqlite://./data/leavn.db", dialect: DialectSQLite, driver: "sqlite", dsn: "./data/leavn.db"},
		{in: ":memory:", dialect: DialectSQLite, driver: "sqlite", dsn: ":memory:"},
	}
	for _, tc := range cases {
		dialect, driver, dsn := detectDialect(tc.in)
		if dialect != tc.dialect || driver != tc.driver || dsn != tc.dsn {
			t.Fatalf("detectDialect(%q) = (%v, %q, %q), want (%v, %q, %q)", tc.in, dialect, driver, dsn, tc.dialect, tc.driver, tc.dsn)
		}
	}
}

func TestRebindOnlyForPostgres(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	if got := pg.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`); got != `SELECT * FROM t WHERE a = $1 AND b = $2` {
		t.Fatalf("unexpected postgres rebind: %s", got)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Fatalf("sqlite query must be unchanged, got %s", got)
	}
}

func TestFindOrCreateTagReusesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.FindOrCreateTag(ctx, "light", "theme")
	if err != nil {
		t.Fatalf("FindOrCreateTag() error = %v", err)
	}
	second, err := s.FindOrCreateTag(ctx, "light", "custom")
	if err != nil {
		t.Fatalf("FindOrCreateTag() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same tag id, got %s and %s", first.ID, second.ID)
	}
	if second.Category != "theme" {
		t.Fatalf("existing category must win, got %q", second.Category)
	}
	if n := countRows(t, s, "tags"); n != 1 {
		t.Fatalf("expected 1 tag row, got %d", n)
	}
}

func TestGetTagByNameMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTagByName(context.Background(), "nothing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddAssociationIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, tag, inserted, err := s.AddAssociation(ctx, "Genesis 1:1", "light", "custom", "")
	if err != nil {
		t.Fatalf("AddAssociation() error = %v", err)
	}
	if !inserted {
		t.Fatal("expected first add to insert")
	}
	second, _, inserted, err := s.AddAssociation(ctx, "Genesis 1:1", "light", "custom", "")
	if err != nil {
		t.Fatalf("AddAssociation() error = %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate add to be a no-op")
	}
	if first.ID != second.ID || second.TagID != tag.ID {
		t.Fatalf("duplicate add must return existing row, got %+v and %+v", first, second)
	}
	if n := countRows(t, s, "tag_associations"); n != 1 {
		t.Fatalf("expected 1 association row, got %d", n)
	}

	// Same tag, personal owner: a distinct triple.
	if _, _, inserted, err := s.AddAssociation(ctx, "Genesis 1:1", "light", "custom", "usr_a"); err != nil || !inserted {
		t.Fatalf("expected personal add to insert, inserted=%v err=%v", inserted, err)
	}
	if n := countRows(t, s, "tag_associations"); n != 2 {
		t.Fatalf("expected 2 association rows, got %d", n)
	}
}

func TestAddAssociationConcurrentFirstUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, _, err := s.AddAssociation(ctx, "John 3:16", "love", "theme", ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent AddAssociation() error = %v", err)
	}

	if n := countRows(t, s, "tags"); n != 1 {
		t.Fatalf("expected 1 tag row, got %d", n)
	}
	if n := countRows(t, s, "tag_associations"); n != 1 {
		t.Fatalf("expected 1 association row, got %d", n)
	}
}

func TestListAssociationsVisibility(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, "Psalm 23:1", "shepherd", "")
	mustAdd(t, s, "Psalm 23:1", "comfort", "usr_a")
	mustAdd(t, s, "Psalm 23:1", "provision", "usr_b")

	cases := []struct {
		viewer string
		want   []string
	}{
		{viewer: "", want: []string{"shepherd"}},
		{viewer: "usr_a", want: []string{"shepherd", "comfort"}},
		{viewer: "usr_b", want: []string{"shepherd", "provision"}},
	}
	for _, tc := range cases {
		items, err := s.ListAssociations(ctx, "Psalm 23:1", tc.viewer)
		if err != nil {
			t.Fatalf("ListAssociations() error = %v", err)
		}
		var names []string
		for _, item := range items {
			names = append(names, item.Name)
		}
		if !reflect.DeepEqual(names, tc.want) {
			t.Fatalf("viewer %q: got %v, want %v", tc.viewer, names, tc.want)
		}
	}
}

func TestDeleteAssociationsRespectsScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, "Romans 8:28", "hope", "")
	mustAdd(t, s, "Romans 8:28", "hope", "usr_a")
	mustAdd(t, s, "Romans 8:28", "hope", "usr_b")
	tag, err := s.GetTagByName(ctx, "hope")
	if err != nil {
		t.Fatalf("GetTagByName() error = %v", err)
	}

	ids, err := s.DeleteAssociations(ctx, "Romans 8:28", tag.ID, DeleteScope{OwnerID: "usr_a"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected one personal row deleted, got %v err=%v", ids, err)
	}
	ids, err = s.DeleteAssociations(ctx, "Romans 8:28", tag.ID, DeleteScope{OwnerID: "usr_a", IncludePublic: true})
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected the public row deleted, got %v err=%v", ids, err)
	}
	ids, err = s.DeleteAssociations(ctx, "Romans 8:28", tag.ID, DeleteScope{})
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty scope must not delete, got %v err=%v", ids, err)
	}

	remaining, err := s.ListAssociations(ctx, "Romans 8:28", "usr_b")
	if err != nil {
		t.Fatalf("ListAssociations() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].OwnerID != "usr_b" {
		t.Fatalf("expected usr_b's row to survive, got %+v", remaining)
	}
	if _, err := s.GetTagByName(ctx, "hope"); err != nil {
		t.Fatalf("tags are never deleted, got %v", err)
	}
}

func TestListChapterUsageScopesToChapter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, "Gen 1:1", "light", "")
	mustAdd(t, s, "Gen 1:2", "light", "usr_a")
	mustAdd(t, s, "Gen 10:1", "nations", "")
	mustAdd(t, s, "gen 1:1", "lowercase", "")
	mustAdd(t, s, "Gen 1_1:1", "underscore", "")

	usage, err := s.ListChapterUsage(ctx, "Gen 1")
	if err != nil {
		t.Fatalf("ListChapterUsage() error = %v", err)
	}
	var refs []string
	for _, u := range usage {
		refs = append(refs, u.Reference)
	}
	want := []string{"Gen 1:1", "Gen 1:2"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("got %v, want %v", refs, want)
	}
}

func TestListReferencesByTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, "John 1:1", "word", "")
	mustAdd(t, s, "John 1:14", "word", "usr_a")
	mustAdd(t, s, "John 1:1", "word", "usr_b")
	mustAdd(t, s, "Heb 4:12", "word", "")

	refs, err := s.ListReferencesByTag(ctx, "word", "", 10)
	if err != nil {
		t.Fatalf("ListReferencesByTag() error = %v", err)
	}
	if !reflect.DeepEqual(refs, []string{"John 1:1", "Heb 4:12"}) {
		t.Fatalf("anonymous: got %v", refs)
	}

	refs, err = s.ListReferencesByTag(ctx, "word", "usr_a", 2)
	if err != nil {
		t.Fatalf("ListReferencesByTag() error = %v", err)
	}
	if !reflect.DeepEqual(refs, []string{"John 1:1", "John 1:14"}) {
		t.Fatalf("usr_a limited: got %v", refs)
	}
}

func TestListCatalogCountsVisibleUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, "Gen 1:1", "light", "")
	mustAdd(t, s, "Gen 1:3", "light", "")
	mustAdd(t, s, "Gen 1:4", "light", "usr_a")
	if _, err := s.FindOrCreateTag(ctx, "unused", "person"); err != nil {
		t.Fatalf("FindOrCreateTag() error = %v", err)
	}

	entries, err := s.ListCatalog(ctx, "")
	if err != nil {
		t.Fatalf("ListCatalog() error = %v", err)
	}
	counts := map[string]int{}
	for _, entry := range entries {
		counts[entry.Name] = entry.UsageCount
	}
	if counts["light"] != 2 || counts["unused"] != 0 {
		t.Fatalf("anonymous counts: %v", counts)
	}

	entries, err = s.ListCatalog(ctx, "usr_a")
	if err != nil {
		t.Fatalf("ListCatalog() error = %v", err)
	}
	for _, entry := range entries {
		if entry.Name == "light" && entry.UsageCount != 3 {
			t.Fatalf("usr_a should see 3 uses of light, got %d", entry.UsageCount)
		}
	}
}

func TestRefreshSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user, err := s.EnsureUserByName(ctx, "Avery")
	if err != nil {
		t.Fatalf("EnsureUserByName() error = %v", err)
	}
	again, err := s.EnsureUserByName(ctx, "Avery")
	if err != nil || again.ID != user.ID {
		t.Fatalf("EnsureUserByName() must be idempotent, got %+v err=%v", again, err)
	}
	if user.Role != "editor" {
		t.Fatalf("expected default role editor, got %q", user.Role)
	}

	if err := s.SaveRefreshSession(ctx, "hash-1", user, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	found, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil || found.ID != user.ID {
		t.Fatalf("LookupRefreshSession() = %+v, %v", found, err)
	}
	if err := s.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash-1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}

	if err := s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeAccessToken() error = %v", err)
	}
	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v err=%v", revoked, err)
	}
}

func mustAdd(t *testing.T, s *SQLStore, reference, tag, owner string) {
	t.Helper()
	if _, _, _, err := s.AddAssociation(context.Background(), reference, tag, "custom", owner); err != nil {
		t.Fatalf("AddAssociation(%q, %q, %q) error = %v", reference, tag, owner, err)
	}
}
