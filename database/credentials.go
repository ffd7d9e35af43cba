package database

import (
	"context"
	"fmt"
)

// Sealer encrypts credential secrets before they reach the credentials table.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// CredentialStore persists credentials with the secret sealed at rest.
type CredentialStore struct {
	db     *Store
	sealer Sealer
}

func NewCredentialStore(store *Store, sealer Sealer) *CredentialStore {
	return &CredentialStore{db: store, sealer: sealer}
}

// UpsertCredential stores the latest credential for the user; no history is kept.
func (c *CredentialStore) UpsertCredential(ctx context.Context, cred Credential) error {
	sealed, err := c.sealer.Seal([]byte(cred.AppPassword))
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}
	_, err = c.db.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email_address, app_password_enc, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET email_address = EXCLUDED.email_address,
		     app_password_enc = EXCLUDED.app_password_enc,
		     updated_at = NOW()`,
		cred.UserID, cred.EmailAddress, sealed)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (c *CredentialStore) GetCredential(ctx context.Context, userID int64) (*Credential, error) {
	var (
		cred   Credential
		sealed []byte
	)
	err := c.db.db.QueryRowContext(ctx,
		"SELECT user_id, email_address, app_password_enc, updated_at FROM credentials WHERE user_id = $1", userID,
	).Scan(&cred.UserID, &cred.EmailAddress, &sealed, &cred.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	plain, err := c.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential: %w", err)
	}
	cred.AppPassword = string(plain)
	return &cred, nil
}
