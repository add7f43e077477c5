package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

	versionsByDialect := map[Dialect]map[string]bool{}
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		migrations, err := MigrationFS(dialect)
		if err != nil {
			t.Fatalf("open %s migrations: %v", dialect, err)
		}
		entries, err := fs.ReadDir(migrations, ".")
		if err != nil {
			t.Fatalf("read %s migrations: %v", dialect, err)
		}

		byVersion := map[string]map[string]bool{}
		for _, entry := range entries {
			match := pattern.FindStringSubmatch(entry.Name())
			if match == nil {
				continue
			}
			version, direction := match[1], match[2]
			if byVersion[version] == nil {
				byVersion[version] = map[string]bool{}
			}
			if byVersion[version][direction] {
				t.Fatalf("duplicate %s migration file for %s version %s", direction, dialect, version)
			}
			byVersion[version][direction] = true
		}

		if len(byVersion) == 0 {
			t.Fatalf("no %s migrations discovered", dialect)
		}
		versionsByDialect[dialect] = map[string]bool{}
		for version, dirs := range byVersion {
			if !dirs["up"] || !dirs["down"] {
				t.Fatalf("%s version %s must include both up and down files", dialect, version)
			}
			versionsByDialect[dialect][version] = true
		}
	}

	for version := range versionsByDialect[DialectPostgres] {
		if !versionsByDialect[DialectSQLite][version] {
			t.Fatalf("version %s exists for postgres but not sqlite", version)
		}
	}
	if len(versionsByDialect[DialectPostgres]) != len(versionsByDialect[DialectSQLite]) {
		t.Fatal("postgres and sqlite migrations must have the same versions")
	}
}

func TestApplyMigrationsIsRepeatable(t *testing.T) {
	s := openTestStore(t)
	if err := ApplyMigrations(t.Context(), s.DB()); err != nil {
		t.Fatalf("second ApplyMigrations() error = %v", err)
	}
	var count int
	if err := s.DB().QueryRowContext(t.Context(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", count)
	}
}
