package migrate

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const DefaultVersion = "1.0.0"

const versionDirective = "-- version:"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one named schema change. Name is the unique key in the
// tracking table; RollbackSQL may be empty.
type Migration struct {
	ID          int        `db:"id"           json:"id,omitempty"`
	Name        string     `db:"name"         json:"name"`
	Version     string     `db:"version"      json:"version"`
	SQL         string     `db:"-"            json:"-"`
	RollbackSQL string     `db:"rollback_sql" json:"rollbackSql,omitempty"`
	AppliedAt   *time.Time `db:"applied_at"   json:"appliedAt,omitempty"`
}

// Status pairs a known migration with its tracking state.
type Status struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`
}

// Builtin returns the embedded CRM schema migrations in apply order.
func Builtin() ([]Migration, error) {
	return Load(migrationsFS, "migrations")
}

// Load reads NNN_name.up.sql / NNN_name.down.sql pairs from dir. Files sort by
// their numeric prefix; the prefix is dropped from the migration name. An up
// file may start with a "-- version: X" line; X must be a semantic version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	type pair struct {
		key  string
		up   string
		down string
	}
	pairs := map[string]*pair{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		var key string
		var up bool
		switch {
		case strings.HasSuffix(file, ".up.sql"):
			key, up = strings.TrimSuffix(file, ".up.sql"), true
		case strings.HasSuffix(file, ".down.sql"):
			key = strings.TrimSuffix(file, ".down.sql")
		default:
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", file, err)
		}
		p, ok := pairs[key]
		if !ok {
			p = &pair{key: key}
			pairs[key] = p
		}
		if up {
			p.up = string(body)
		} else {
			p.down = string(body)
		}
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	migrations := make([]Migration, 0, len(keys))
	seen := map[string]string{}
	for _, key := range keys {
		p := pairs[key]
		if strings.TrimSpace(p.up) == "" {
			return nil, fmt.Errorf("migration %s has no up statement", key)
		}
		name := migrationName(key)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("migration name %q used by %s and %s", name, prev, key)
		}
		seen[name] = key
		version, sql := splitVersion(p.up)
		if _, err := semver.StrictNewVersion(version); err != nil {
			return nil, fmt.Errorf("migration %s: invalid version %q: %w", key, version, err)
		}
		migrations = append(migrations, Migration{
			Name:        name,
			Version:     version,
			SQL:         sql,
			RollbackSQL: strings.TrimSpace(p.down),
		})
	}
	return migrations, nil
}

func migrationName(key string) string {
	prefix, rest, ok := strings.Cut(key, "_")
	if !ok || strings.Trim(prefix, "0123456789") != "" {
		return key
	}
	return rest
}

func splitVersion(body string) (string, string) {
	version := DefaultVersion
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(body))
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first && strings.HasPrefix(strings.TrimSpace(line), versionDirective) {
			if v := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), versionDirective)); v != "" {
				version = v
			}
			first = false
			continue
		}
		first = false
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return version, strings.TrimSpace(out.String())
}
