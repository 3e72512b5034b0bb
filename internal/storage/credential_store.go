package storage

import (
	"context"
	"fmt"
)

// CredentialStore is the secure key/value store used for OAuth material.
// Values are sealed with AES-256-GCM before they reach the database.
type CredentialStore struct {
	db     Storage
	sealer *sealer
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db Storage, key []byte) (*CredentialStore, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, sealer: s}, nil
}

// Get returns the decrypted value stored under key. A missing key yields an
// error wrapping ErrNotFound.
func (cs *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	ciphertext, nonce, err := cs.db.GetCredential(ctx, key)
	if err != nil {
		return "", err
	}

	plaintext, err := cs.sealer.open(key, ciphertext, nonce)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential %s: %w", key, err)
	}
	return string(plaintext), nil
}

// Set encrypts and stores value under key, replacing any previous value.
func (cs *CredentialStore) Set(ctx context.Context, key, value string) error {
	if value == "" {
		return fmt.Errorf("%w: value for %s cannot be empty", ErrInvalidInput, key)
	}

	ciphertext, nonce, err := cs.sealer.seal(key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential %s: %w", key, err)
	}
	return cs.db.StoreCredential(ctx, key, ciphertext, nonce)
}

// Delete removes key from the store.
func (cs *CredentialStore) Delete(ctx context.Context, key string) error {
	return cs.db.DeleteCredential(ctx, key)
}
