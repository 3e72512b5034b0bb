package storage

import (
	"context"
)

// Storage defines the low-level database operations required by the
// higher-level CredentialStore.
type Storage interface {
	GetCredential(ctx context.Context, key string) ([]byte, []byte, error)
	StoreCredential(ctx context.Context, key string, value, nonce []byte) error
	DeleteCredential(ctx context.Context, key string) error
}
