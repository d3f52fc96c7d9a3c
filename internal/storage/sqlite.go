// Package storage persists the gateway's durable state across
// restarts: the configured device list and the last-known value map,
// in an embedded sqlite database, plus an optional Redis mirror for
// multi-replica façade deployments (redis_mirror.go).
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldwire/modgate/internal/model"
	"github.com/fieldwire/modgate/internal/security"
)

// SnapshotStore is the embedded durable store backing the gateway's
// restart-survival guarantee: the device list it was last running and
// each (device_id, tag_id)'s last-known value, plus the service's
// own secrets (sink credentials, JWT signing key), encrypted at rest.
type SnapshotStore struct {
	db *sql.DB
	enc *security.EncryptionService
}

// DeviceRecord is one persisted device entry.
type DeviceRecord struct {
	DeviceID string
	Factory string
	Online bool
	UpdatedAt time.Time
}

// NewSnapshotStore opens (creating if absent) the sqlite database at
// dbPath and ensures its schema exists. masterKey derives the at-rest
// encryption key for secrets saved via SaveSecret; an empty masterKey
// still works (PBKDF2 over an empty password) but should only be used
// in development.
func NewSnapshotStore(dbPath string, masterKey string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	store := &SnapshotStore{db: db, enc: security.NewEncryptionService(masterKey)}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SnapshotStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		factory TEXT NOT NULL,
		online INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS values_snapshot (
		device_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (device_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_values_snapshot_device ON values_snapshot(device_id);

	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		ciphertext TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}
	return nil
}

// UpsertDevice records a device's last-known factory and online state.
func (s *SnapshotStore) UpsertDevice(deviceID, factory string, online bool) error {
	query := `
		INSERT INTO devices (device_id, factory, online)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			factory = excluded.factory,
			online = excluded.online,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, deviceID, factory, boolToInt(online)); err != nil {
		return fmt.Errorf("storage: upsert device %s: %w", deviceID, err)
	}
	return nil
}

// RemoveDevice deletes a device and its value snapshot.
func (s *SnapshotStore) RemoveDevice(deviceID string) error {
	if _, err := s.db.Exec(`DELETE FROM values_snapshot WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("storage: delete values for %s: %w", deviceID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM devices WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("storage: delete device %s: %w", deviceID, err)
	}
	return nil
}

// ListDevices returns every persisted device record.
func (s *SnapshotStore) ListDevices() ([]DeviceRecord, error) {
	rows, err := s.db.Query(`SELECT device_id, factory, online, updated_at FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("storage: list devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var online int
		if err := rows.Scan(&rec.DeviceID, &rec.Factory, &online, &rec.UpdatedAt); err != nil {
			continue
		}
		rec.Online = online != 0
		out = append(out, rec)
	}
	return out, nil
}

// SaveValue persists one (device_id, tag_id) -> value snapshot.
func (s *SnapshotStore) SaveValue(deviceID, tagID string, v model.Value) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal value: %w", err)
	}
	query := `
		INSERT INTO values_snapshot (device_id, tag_id, value)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id, tag_id) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, deviceID, tagID, string(data)); err != nil {
		return fmt.Errorf("storage: save value %s/%s: %w", deviceID, tagID, err)
	}
	return nil
}

// LoadValues returns every persisted value for a device, keyed by tag.
func (s *SnapshotStore) LoadValues(deviceID string) (map[string]model.Value, error) {
	rows, err := s.db.Query(`SELECT tag_id, value FROM values_snapshot WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("storage: load values for %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make(map[string]model.Value)
	for rows.Next() {
		var tagID, data string
		if err := rows.Scan(&tagID, &data); err != nil {
			continue
		}
		var v model.Value
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			continue
		}
		out[tagID] = v
	}
	return out, nil
}

// SaveSecret encrypts value with the store's master key and persists
// it under key, e.g. a historical sink's broker password or the
// façade's JWT signing secret.
func (s *SnapshotStore) SaveSecret(key, value string) error {
	ciphertext, err := s.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("storage: encrypt secret %s: %w", key, err)
	}
	query := `
		INSERT INTO secrets (key, ciphertext)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, key, ciphertext); err != nil {
		return fmt.Errorf("storage: save secret %s: %w", key, err)
	}
	return nil
}

// LoadSecret decrypts and returns the secret stored under key. ok is
// false if no such secret was ever saved.
func (s *SnapshotStore) LoadSecret(key string) (value string, ok bool, err error) {
	var ciphertext string
	row := s.db.QueryRow(`SELECT ciphertext FROM secrets WHERE key = ?`, key)
	if err := row.Scan(&ciphertext); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: load secret %s: %w", key, err)
	}
	plaintext, err := s.enc.Decrypt(ciphertext)
	if err != nil {
		return "", false, fmt.Errorf("storage: decrypt secret %s: %w", key, err)
	}
	return plaintext, true, nil
}

// Close closes the underlying database handle.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
