package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps an open database handle.
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// validateCredentialInput checks if the credential input parameters are valid
func validateCredentialInput(key string, value, nonce []byte) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}
	if len(value) == 0 {
		return fmt.Errorf("%w: value cannot be empty", ErrInvalidInput)
	}
	if len(nonce) == 0 {
		return fmt.Errorf("%w: nonce cannot be empty", ErrInvalidInput)
	}
	return nil
}

// StoreCredential stores or replaces an encrypted value and its nonce
func (s *SQLiteStorage) StoreCredential(ctx context.Context, key string, value, nonce []byte) error {
	if err := validateCredentialInput(key, value, nonce); err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (key, encrypted_value, nonce) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			nonce = excluded.nonce
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, nonce); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential retrieves an encrypted value and its nonce
func (s *SQLiteStorage) GetCredential(ctx context.Context, key string) ([]byte, []byte, error) {
	if key == "" {
		return nil, nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}

	var value, nonce []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_value, nonce FROM credentials WHERE key = ?",
		key).Scan(&value, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: credential %s", ErrNotFound, key)
		}
		return nil, nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return value, nonce, nil
}

// DeleteCredential removes a credential. Deleting a missing key is not an error.
func (s *SQLiteStorage) DeleteCredential(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
