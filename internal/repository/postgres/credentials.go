package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/service/credentials"
)

// CredentialRepo implements credentials.Repository against PostgreSQL.
type CredentialRepo struct{ db *sql.DB }

// NewCredentialRepo creates a Postgres-backed credential repository.
func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialColumns = `
	id, domain_id, protocol, host, port, username, encrypted_secret,
	encryption, skip_cert_verify, COALESCE(folder,''), is_default, is_active,
	last_checked_at, processed_count, last_error, created_at`

func (r *CredentialRepo) ActiveForDomain(ctx context.Context, domainID string) ([]domain.MailboxCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM mailbox_credentials
		WHERE domain_id = $1 AND is_active = true
		ORDER BY created_at ASC, id ASC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain credentials: %w", err)
	}
	return scanCredentials(rows)
}

func (r *CredentialRepo) ActiveDefaults(ctx context.Context) ([]domain.MailboxCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM mailbox_credentials
		WHERE domain_id IS NULL AND is_default = true AND is_active = true
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list default credentials: %w", err)
	}
	return scanCredentials(rows)
}

func (r *CredentialRepo) Get(ctx context.Context, credentialID string) (*domain.MailboxCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM mailbox_credentials
		WHERE id = $1
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	creds, err := scanCredentials(rows)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, credentials.ErrNotFound
	}
	c := creds[0]
	c.EncryptedSecret = nil
	return &c, nil
}

func (r *CredentialRepo) MarkChecked(ctx context.Context, credentialID string, processed int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_credentials
		SET last_checked_at = $1,
		    processed_count = processed_count + $2,
		    last_error = NULL
		WHERE id = $3
	`, at, processed, credentialID)
	if err != nil {
		return fmt.Errorf("mark credential checked: %w", err)
	}
	return nil
}

func (r *CredentialRepo) SetError(ctx context.Context, credentialID string, e domain.CredentialError) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal credential error: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE mailbox_credentials SET last_error = $1 WHERE id = $2
	`, payload, credentialID)
	if err != nil {
		return fmt.Errorf("set credential error: %w", err)
	}
	return nil
}

func scanCredentials(rows *sql.Rows) ([]domain.MailboxCredential, error) {
	defer rows.Close()

	var out []domain.MailboxCredential
	for rows.Next() {
		var c domain.MailboxCredential
		var lastErr []byte
		if err := rows.Scan(&c.ID, &c.DomainID, &c.Protocol, &c.Host, &c.Port,
			&c.Username, &c.EncryptedSecret, &c.Encryption, &c.SkipCertVerify,
			&c.Folder, &c.IsDefault, &c.IsActive, &c.LastCheckedAt,
			&c.ProcessedCount, &lastErr, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if len(lastErr) > 0 {
			var ce domain.CredentialError
			if json.Unmarshal(lastErr, &ce) == nil {
				c.LastError = &ce
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
