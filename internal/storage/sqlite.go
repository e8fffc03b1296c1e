package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"howett.net/plist"
	_ "modernc.org/sqlite"

	"github.com/kalambet/prefkit/internal/settings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// updatedAtLayout has a fixed width so that updated_at sorts as text.
const updatedAtLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database holding settings for any number of domains.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "prefkit.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Domains returns the names of all domains holding at least one setting.
func (s *Store) Domains() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT domain FROM settings ORDER BY domain ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// Domain returns the settings.Store for one domain of the database.
func (s *Store) Domain(name string) *Domain {
	return &Domain{db: s.db, name: name}
}

// Domain is a settings.Store scoped to one domain.
type Domain struct {
	db   *sql.DB
	name string
}

func (d *Domain) Name() string { return d.name }

func (d *Domain) Object(key string) (any, bool, error) {
	var kind string
	var value any
	err := d.db.QueryRow("SELECT kind, value FROM settings WHERE domain = ? AND key = ?", d.name, key).Scan(&kind, &value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeColumn(kind, value)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s/%s: %w", d.name, key, err)
	}
	return v, true, nil
}

func (d *Domain) SetObject(key string, value any) error {
	n, err := settings.Normalize(value)
	if err != nil {
		return err
	}
	kind := settings.KindOf(n)
	col, err := encodeColumn(kind, n)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", d.name, key, err)
	}
	_, err = d.db.Exec(`
		INSERT INTO settings (domain, key, kind, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, key) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at`,
		d.name, key, kind.String(), col, time.Now().UTC().Format(updatedAtLayout),
	)
	return err
}

func (d *Domain) RemoveObject(key string) error {
	_, err := d.db.Exec("DELETE FROM settings WHERE domain = ? AND key = ?", d.name, key)
	return err
}

func (d *Domain) Keys() ([]string, error) {
	rows, err := d.db.Query("SELECT key FROM settings WHERE domain = ? ORDER BY key ASC", d.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Entries returns the metadata of every setting in the domain, most recently
// updated first.
func (d *Domain) Entries() ([]Entry, error) {
	rows, err := d.db.Query(`
		SELECT key, kind, updated_at FROM settings
		WHERE domain = ? ORDER BY updated_at DESC, key ASC`, d.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Domain: d.name}
		var updatedAt string
		if err := rows.Scan(&e.Key, &e.Kind, &updatedAt); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = time.Parse(updatedAtLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at of %s: %w", e.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes every setting in the domain.
func (d *Domain) Clear() error {
	_, err := d.db.Exec("DELETE FROM settings WHERE domain = ?", d.name)
	return err
}

// encodeColumn maps a normalized primitive onto a SQLite value. Scalars keep
// their natural column type; containers are stored as binary plists.
func encodeColumn(kind settings.Kind, v any) (any, error) {
	switch kind {
	case settings.KindBool:
		if v.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case settings.KindDate:
		return v.(time.Time).UTC().Format(time.RFC3339Nano), nil
	case settings.KindArray, settings.KindDict:
		return plist.Marshal(v, plist.BinaryFormat)
	case settings.KindInt, settings.KindFloat, settings.KindString, settings.KindData:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T", settings.ErrUnsupportedType, v)
}

func decodeColumn(kindName string, col any) (any, error) {
	kind, err := settings.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	switch kind {
	case settings.KindBool:
		n, ok := col.(int64)
		if !ok {
			return nil, fmt.Errorf("bool stored as %T", col)
		}
		return n != 0, nil
	case settings.KindInt:
		if _, ok := col.(int64); !ok {
			return nil, fmt.Errorf("int stored as %T", col)
		}
		return col, nil
	case settings.KindFloat:
		switch f := col.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		}
		return nil, fmt.Errorf("float stored as %T", col)
	case settings.KindString:
		switch s := col.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("string stored as %T", col)
	case settings.KindData:
		switch b := col.(type) {
		case []byte:
			return b, nil
		case nil:
			return []byte{}, nil
		}
		return nil, fmt.Errorf("data stored as %T", col)
	case settings.KindDate:
		s, ok := col.(string)
		if !ok {
			return nil, fmt.Errorf("date stored as %T", col)
		}
		return time.Parse(time.RFC3339Nano, s)
	case settings.KindArray, settings.KindDict:
		b, ok := col.([]byte)
		if !ok {
			return nil, fmt.Errorf("%s stored as %T", kind, col)
		}
		var v any
		if _, err := plist.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return settings.Normalize(v)
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}
