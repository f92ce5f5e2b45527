// Package mailbox implements the bounce mailbox poller: streaming retrieval
// of not-yet-processed messages over IMAP or POP3. Messages are handed to
// the handler one at a time as they are fetched, so memory stays bounded for
// large mailboxes, and each successfully handled message is marked processed
// in the mailbox on a best-effort basis.
package mailbox

import (
	"context"
	"fmt"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Handler receives each fetched message. Returning an error aborts the
// cycle; messages already handled stay handled and the remainder is retried
// on the next scheduled cycle (at-least-once delivery — the classifier
// de-duplicates).
type Handler interface {
	Handle(ctx context.Context, msg domain.RawBounceMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg domain.RawBounceMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg domain.RawBounceMessage) error {
	return f(ctx, msg)
}

// Fetcher implementations (IMAP, POP3) stream a credential's mailbox into a
// handler. Fetch returns the number of messages successfully handled, which
// is meaningful even when err is non-nil (partial read failure mid-stream).
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, cred domain.MailboxCredential, secret []byte, handler Handler) (int, error)
}

// Factory resolves the fetcher implementation for a credential's protocol.
type Factory struct {
	imap *IMAPFetcher
	pop3 *POP3Fetcher
}

// NewFactory creates a factory over the given fetchers.
func NewFactory(imap *IMAPFetcher, pop3 *POP3Fetcher) *Factory {
	return &Factory{imap: imap, pop3: pop3}
}

// FetcherFor returns the fetcher matching the credential's protocol.
func (f *Factory) FetcherFor(cred domain.MailboxCredential) (Fetcher, error) {
	switch cred.Protocol {
	case domain.ProtocolIMAP:
		return f.imap, nil
	case domain.ProtocolPOP3:
		return f.pop3, nil
	default:
		return nil, fmt.Errorf("unsupported mailbox protocol %q", cred.Protocol)
	}
}
