// Package database is the sqlite backend for storage.Store. Values are kept
// in a single kv_store table and optionally sealed with AES-GCM.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"carelay/internal/migrations"
	"carelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database implements storage.Store on top of sqlite.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

// ForwardAudit is one row of the forward audit trail.
type ForwardAudit struct {
	RequestID  string
	CA         string
	Chain      string
	SourceChat string
	Outcome    string
	Error      string
	CreatedAt  time.Time
}

// New opens (creating if needed) the sqlite file at dbPath and applies
// migrations. An empty encryptionSecret stores values in plaintext.
func New(dbPath, encryptionSecret string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(err error, msg string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("%s: %w (close error: %v)", msg, err, closeErr)
		}
		return fmt.Errorf("%s: %w", msg, err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(err, "failed to ping database")
	}

	if err := migrations.Up(db); err != nil {
		return nil, closeWith(err, "failed to initialize schema")
	}

	enc, err := newEncryptor(encryptionSecret)
	if err != nil {
		return nil, closeWith(err, "failed to initialize encryptor")
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var stored string
	err := retryableDBOperationNoReturn(ctx, func() error {
		return d.db.QueryRowContext(ctx, selectValueQuery, key).Scan(&stored)
	}, "get "+key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	plain, err := d.encryptor.Decrypt(stored)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decrypt value for %s: %w", key, err)
	}
	return []byte(plain), true, nil
}

func (d *Database) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := d.encryptor.Encrypt(string(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt value for %s: %w", key, err)
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertValueQuery, key, sealed)
		return err
	}, "set "+key)
}

func (d *Database) Delete(ctx context.Context, key string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteValueQuery, key)
		return err
	}, "delete "+key)
}

// RecordForward appends a row to the forward audit trail.
func (d *Database) RecordForward(ctx context.Context, a ForwardAudit) error {
	var errText sql.NullString
	if a.Error != "" {
		errText = sql.NullString{String: a.Error, Valid: true}
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertAuditQuery,
			a.RequestID, a.CA, a.Chain, a.SourceChat, a.Outcome, errText)
		return err
	}, "record forward")
}

// RecentForwards returns up to limit audit rows, newest first.
func (d *Database) RecentForwards(ctx context.Context, limit int) ([]ForwardAudit, error) {
	rows, err := d.db.QueryContext(ctx, selectRecentAuditQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query forward audit: %w", err)
	}
	defer rows.Close()

	var out []ForwardAudit
	for rows.Next() {
		var a ForwardAudit
		var errText sql.NullString
		if err := rows.Scan(&a.RequestID, &a.CA, &a.Chain, &a.SourceChat, &a.Outcome, &errText, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan forward audit: %w", err)
		}
		a.Error = errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// SchemaVersion reports the applied goose migration version.
func (d *Database) SchemaVersion() (int64, error) {
	return migrations.Version(d.db)
}
