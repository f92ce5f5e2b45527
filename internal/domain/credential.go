package domain

import "time"

// MailboxProtocol selects the retrieval protocol for a bounce mailbox.
type MailboxProtocol string

const (
	ProtocolIMAP MailboxProtocol = "imap"
	ProtocolPOP3 MailboxProtocol = "pop3"
)

// EncryptionMode selects the transport security for the mailbox connection.
type EncryptionMode string

const (
	EncryptionNone EncryptionMode = "none"
	EncryptionTLS  EncryptionMode = "tls"
	EncryptionSSL  EncryptionMode = "ssl"
)

// CredentialError is the structured last-error recorded on a credential after
// a failed poll cycle. Cleared on the next successful cycle.
type CredentialError struct {
	Message    string    `json:"message"`
	Context    string    `json:"context"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MailboxCredential describes one pollable bounce mailbox. A credential with
// a nil DomainID and IsDefault set is the account-wide fallback used for any
// domain without its own active credential.
//
// EncryptedSecret holds the AES-GCM ciphertext of the mailbox password; the
// plaintext never appears on a read path and is decrypted only at connect
// time by the poller.
type MailboxCredential struct {
	ID              string           `json:"id" db:"id"`
	DomainID        *string          `json:"domain_id,omitempty" db:"domain_id"`
	Protocol        MailboxProtocol  `json:"protocol" db:"protocol"`
	Host            string           `json:"host" db:"host"`
	Port            int              `json:"port" db:"port"`
	Username        string           `json:"username" db:"username"`
	EncryptedSecret []byte           `json:"-" db:"encrypted_secret"`
	Encryption      EncryptionMode   `json:"encryption" db:"encryption"`
	SkipCertVerify  bool             `json:"skip_cert_verify" db:"skip_cert_verify"`
	Folder          string           `json:"folder,omitempty" db:"folder"`
	IsDefault       bool             `json:"is_default" db:"is_default"`
	IsActive        bool             `json:"is_active" db:"is_active"`
	LastCheckedAt   *time.Time       `json:"last_checked_at,omitempty" db:"last_checked_at"`
	ProcessedCount  int64            `json:"processed_count" db:"processed_count"`
	LastError       *CredentialError `json:"last_error,omitempty" db:"-"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// Mailbox returns the folder to poll, defaulting to INBOX.
func (c MailboxCredential) Mailbox() string {
	if c.Folder == "" {
		return "INBOX"
	}
	return c.Folder
}

// UseTLS reports whether the connection should be wrapped in TLS. Both the
// "tls" and "ssl" modes dial an implicit-TLS socket; the distinction is kept
// only for configuration compatibility.
func (c MailboxCredential) UseTLS() bool {
	return c.Encryption == EncryptionTLS || c.Encryption == EncryptionSSL
}
