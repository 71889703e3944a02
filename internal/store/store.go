// Package store persists seizure records, emergency contacts and the user
// profile in a local SQLite database (WAL mode).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("store: not found")

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode,
// creating parent directories as needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the DDL schema to the database. It is idempotent
// (IF NOT EXISTS everywhere).
func Migrate(db *DB) error {
	ddl := []string{
		ddlSeizures,
		ddlContacts,
		ddlProfile,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const ddlSeizures = `
CREATE TABLE IF NOT EXISTS seizures (
    id         TEXT PRIMARY KEY,             -- uuid assigned on write
    user_id    TEXT NOT NULL,
    timestamp  TEXT NOT NULL,                -- ISO-8601 from the wearable
    samples    TEXT NOT NULL,                -- JSON array of float64
    latitude   REAL,
    longitude  REAL,
    address    TEXT,
    created_at INTEGER NOT NULL              -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_seizures_created_at ON seizures (created_at DESC);
`

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id      TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name    TEXT NOT NULL,
    phone   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts (user_id);
`

const ddlProfile = `
CREATE TABLE IF NOT EXISTS profile (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT ''
);
`

// SeizureRecord is one persisted seizure event. Immutable after the write;
// the id is assigned by the store.
type SeizureRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Timestamp string    `json:"timestamp"`
	Samples   []float64 `json:"eegSamples"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt int64     `json:"createdAt"`
}

// EmergencyContact is one SMS recipient for seizure alerts.
type EmergencyContact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phoneNumber"`
}

// Profile is the single local user.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// SaveSeizure writes rec and returns the generated id.
func (db *DB) SaveSeizure(ctx context.Context, rec SeizureRecord) (string, error) {
	samples, err := json.Marshal(rec.Samples)
	if err != nil {
		return "", fmt.Errorf("store: encode samples: %w", err)
	}
	id := uuid.NewString()
	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO seizures (id, user_id, timestamp, samples, latitude, longitude, address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.UserID, rec.Timestamp, string(samples), rec.Latitude, rec.Longitude, rec.Address, createdAt)
	if err != nil {
		return "", fmt.Errorf("store: insert seizure: %w", err)
	}
	return id, nil
}

// GetSeizure fetches one record by id.
func (db *DB) GetSeizure(ctx context.Context, id string) (SeizureRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, user_id, timestamp, samples, latitude, longitude, address, created_at
		 FROM seizures WHERE id = ?`, id)
	rec, err := scanSeizure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SeizureRecord{}, ErrNotFound
	}
	return rec, err
}

// ListSeizures returns records for userID, newest first, capped at limit
// (limit <= 0 means no cap).
func (db *DB) ListSeizures(ctx context.Context, userID string, limit int) ([]SeizureRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, timestamp, samples, latitude, longitude, address, created_at
		 FROM seizures WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list seizures: %w", err)
	}
	defer rows.Close()

	var records []SeizureRecord
	for rows.Next() {
		rec, err := scanSeizure(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteSeizure removes one record.
func (db *DB) DeleteSeizure(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM seizures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete seizure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeizure(row rowScanner) (SeizureRecord, error) {
	var (
		rec     SeizureRecord
		samples string
		lat     sql.NullFloat64
		lon     sql.NullFloat64
		addr    sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Timestamp, &samples, &lat, &lon, &addr, &rec.CreatedAt); err != nil {
		return SeizureRecord{}, err
	}
	if err := json.Unmarshal([]byte(samples), &rec.Samples); err != nil {
		return SeizureRecord{}, fmt.Errorf("store: decode samples for %s: %w", rec.ID, err)
	}
	if lat.Valid {
		rec.Latitude = &lat.Float64
	}
	if lon.Valid {
		rec.Longitude = &lon.Float64
	}
	rec.Address = addr.String
	return rec, nil
}

// AddContact inserts a contact and returns its generated id.
func (db *DB) AddContact(ctx context.Context, userID string, c EmergencyContact) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO contacts (id, user_id, name, phone) VALUES (?, ?, ?, ?)`,
		id, userID, c.Name, c.Phone)
	if err != nil {
		return "", fmt.Errorf("store: insert contact: %w", err)
	}
	return id, nil
}

// ListContacts returns the user's emergency contacts.
func (db *DB) ListContacts(ctx context.Context, userID string) ([]EmergencyContact, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, phone FROM contacts WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []EmergencyContact
	for rows.Next() {
		var c EmergencyContact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// DeleteContact removes one contact.
func (db *DB) DeleteContact(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile returns the local user profile, creating a default row on
// first access.
func (db *DB) GetProfile(ctx context.Context) (Profile, error) {
	var p Profile
	err := db.QueryRowContext(ctx, `SELECT id, name, phone FROM profile LIMIT 1`).
		Scan(&p.ID, &p.Name, &p.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		p = Profile{ID: uuid.NewString()}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO profile (id, name, phone) VALUES (?, ?, ?)`, p.ID, p.Name, p.Phone); err != nil {
			return Profile{}, fmt.Errorf("store: init profile: %w", err)
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("store: get profile: %w", err)
	}
	return p, nil
}

// SaveProfile updates the profile's mutable fields.
func (db *DB) SaveProfile(ctx context.Context, p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("store: profile id required")
	}
	_, err := db.ExecContext(ctx,
		`UPDATE profile SET name = ?, phone = ? WHERE id = ?`, p.Name, p.Phone, p.ID)
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	return nil
}
