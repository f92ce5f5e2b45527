package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/ignite/deliverability-guard/internal/domain"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPFetcher streams an IMAP mailbox into the bounce pipeline. Only unseen
// messages are fetched; a successfully handled message is flagged \Seen so
// it is not redelivered indefinitely.
type IMAPFetcher struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
	newClient   func(domain.MailboxCredential) (imapClient, error)
}

// IMAPOption customizes fetcher behavior.
type IMAPOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP fetcher ready for scheduler polling.
func NewIMAPFetcher(opts ...IMAPOption) *IMAPFetcher {
	f := &IMAPFetcher{
		dialTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPLogger overrides the logger used for fetcher diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withIMAPClientFactory(factory func(domain.MailboxCredential) (imapClient, error)) IMAPOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// Name returns the fetcher identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Fetch connects, lists unseen messages, and streams each one to the
// handler. Messages are fetched one UID at a time rather than materialized
// up front. A fetch failure mid-stream stops the cycle but returns how many
// messages were already handled.
func (f *IMAPFetcher) Fetch(ctx context.Context, cred domain.MailboxCredential, secret []byte, handler Handler) (int, error) {
	if handler == nil {
		return 0, errors.New("imap fetcher requires a handler")
	}
	if cred.Username == "" || len(secret) == 0 {
		return 0, errors.New("imap credential missing username or secret")
	}

	client, err := f.newClient(cred)
	if err != nil {
		return 0, fmt.Errorf("imap connect: %w", err)
	}
	defer f.safeClose(client)

	if err := client.Login(cred.Username, string(secret)).Wait(); err != nil {
		return 0, fmt.Errorf("imap auth: %w", err)
	}

	mbox := cred.Mailbox()
	sel, err := client.Select(mbox, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("imap select %s: %w", mbox, err)
	}
	// UIDVALIDITY scopes the message id: a rebuilt mailbox reuses UIDs.
	var uidValidity uint32
	if sel != nil {
		uidValidity = sel.UIDValidity
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}

	processed := 0
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		bufs, err := client.Fetch(imap.UIDSetNum(uid), fetchOpts).Collect()
		if err != nil {
			return processed, fmt.Errorf("imap fetch uid %d: %w", uid, err)
		}
		if len(bufs) == 0 {
			continue
		}
		buf := bufs[0]
		body := buf.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			continue
		}
		received := buf.InternalDate
		if received.IsZero() {
			received = f.now()
		}

		msg := domain.RawBounceMessage{
			MessageID:  fmt.Sprintf("%s:%d:%d", cred.ID, uidValidity, uid),
			Raw:        append([]byte(nil), body...),
			ReceivedAt: received,
		}
		if err := handler.Handle(ctx, msg); err != nil {
			return processed, fmt.Errorf("handle uid %d: %w", uid, err)
		}
		processed++

		// Best-effort: a failed flag store must not undo the
		// classification that already happened. The duplicate is caught
		// downstream next cycle.
		store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}}
		if err := client.Store(imap.UIDSetNum(uid), store, nil).Close(); err != nil {
			f.logger.Printf("[IMAPFetcher] mark seen uid %d failed: %v", uid, err)
		}
	}

	if err := client.Logout().Wait(); err != nil {
		f.logger.Printf("[IMAPFetcher] logout failed: %v", err)
	}

	return processed, nil
}

func (f *IMAPFetcher) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && f.logger != nil {
		f.logger.Printf("[IMAPFetcher] close error: %v", err)
	}
}

func (f *IMAPFetcher) defaultClientFactory(cred domain.MailboxCredential) (imapClient, error) {
	if cred.Host == "" {
		return nil, errors.New("imap credential missing host")
	}
	port := cred.Port
	if port == 0 {
		if cred.UseTLS() {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	if cred.SkipCertVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	addr := fmt.Sprintf("%s:%d", cred.Host, port)
	var client *imapclient.Client
	var err error
	if cred.UseTLS() {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
