package gesture

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/num/quat"
	_ "modernc.org/sqlite"

	"github.com/gwillem/glove/pkg/imu"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion is the migration version this build reads and writes.
const SchemaVersion uint = 2

var (
	// ErrDatabaseMissing is returned by Open when the file does not exist.
	ErrDatabaseMissing = errors.New("gesture: database not found")
	// ErrSchemaMismatch is returned by Open when the file was written by a
	// different schema version or a migration was interrupted.
	ErrSchemaMismatch = errors.New("gesture: database schema version mismatch")
)

// Store is the SQLite file holding gesture references.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// LabelSummary describes the references stored for one label.
type LabelSummary struct {
	Label int
	Name  string
	Count int
}

// Create opens path, creating the file if needed, and migrates it to the
// current schema.
func Create(path string, log zerolog.Logger) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, log: log}

	m, err := s.newMigrate()
	if err != nil {
		db.Close()
		return nil, err
	}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// Open opens an existing gesture database and verifies its schema version.
// It never migrates and never writes.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, log: log}

	version, dirty, err := s.Version()
	if err != nil {
		db.Close()
		return nil, err
	}
	if dirty || version != SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("%w: %s has version %d (dirty=%t), want %d",
			ErrSchemaMismatch, path, version, dirty, SchemaVersion)
	}
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{s.log}
	return m, nil
}

// Version returns the applied schema version and whether the last
// migration was left dirty. An unmigrated file reports version 0. It reads
// the migration table directly so that it never writes to the file.
func (s *Store) Version() (uint, bool, error) {
	var tables int
	err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&tables)
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	if tables == 0 {
		return 0, false, nil
	}

	var (
		version int64
		dirty   bool
	)
	err = s.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return uint(max(version, 0)), dirty, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every reference in insertion order.
func (s *Store) Load(ctx context.Context) (*Database, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.label, o.sensor, o.w, o.x, o.y, o.z
		FROM gesture_references r
		JOIN reference_orientations o ON o.reference_id = r.id
		ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var (
		refs   []Reference
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			id, label int64
			sensor    string
			q         quat.Number
		)
		if err := rows.Scan(&id, &label, &sensor, &q.Real, &q.Imag, &q.Jmag, &q.Kmag); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		sid, err := imu.ParseSensor(sensor)
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", id, err)
		}
		if id != lastID {
			refs = append(refs, Reference{Label: int(label)})
			lastID = id
		}
		refs[len(refs)-1].Orientation.Set(sid, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}
	return NewDatabase(refs...), nil
}

// Add stores one reference and returns its row id.
func (s *Store) Add(ctx context.Context, label int, set *imu.OrientationSet) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertReference(ctx, tx, label, set)
		return err
	})
	return id, err
}

// AddAll stores refs in order within one transaction.
func (s *Store) AddAll(ctx context.Context, refs []Reference) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range refs {
			if _, err := insertReference(ctx, tx, refs[i].Label, &refs[i].Orientation); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertReference(ctx context.Context, tx *sql.Tx, label int, set *imu.OrientationSet) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO gesture_references (label) VALUES (?)`, label)
	if err != nil {
		return 0, fmt.Errorf("insert reference: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reference: %w", err)
	}
	for _, sid := range imu.AllSensors() {
		q := set.Get(sid)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reference_orientations (reference_id, sensor, w, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(rune(sid)), q.Real, q.Imag, q.Jmag, q.Kmag); err != nil {
			return 0, fmt.Errorf("insert orientation %s: %w", sid, err)
		}
	}
	return id, nil
}

// Delete removes every reference with label and returns how many went.
func (s *Store) Delete(ctx context.Context, label int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gesture_references WHERE label = ?`, label)
	if err != nil {
		return 0, fmt.Errorf("delete label %d: %w", label, err)
	}
	return res.RowsAffected()
}

// SetLabelName names a label.
func (s *Store) SetLabelName(ctx context.Context, label int, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gesture_labels (label, name) VALUES (?, ?)
		ON CONFLICT (label) DO UPDATE SET name = excluded.name`, label, name)
	if err != nil {
		return fmt.Errorf("name label %d: %w", label, err)
	}
	return nil
}

// Summary counts references per label.
func (s *Store) Summary(ctx context.Context) ([]LabelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.label, COALESCE(l.name, ''), COUNT(*)
		FROM gesture_references r
		LEFT JOIN gesture_labels l ON l.label = r.label
		GROUP BY r.label
		ORDER BY r.label`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []LabelSummary
	for rows.Next() {
		var ls LabelSummary
		if err := rows.Scan(&ls.Label, &ls.Name, &ls.Count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// migrateLogger routes migrate's output through zerolog.
type migrateLogger struct {
	log zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug().Msgf("[migrate] "+format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
