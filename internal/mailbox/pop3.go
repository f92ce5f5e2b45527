package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/knadh/go-pop3"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

type pop3ConnFactory func(domain.MailboxCredential) (pop3Connection, error)

// POP3Fetcher streams a POP3 mailbox into the bounce pipeline. POP3 has no
// message flags, so a successfully handled message is deleted from the
// server; redelivery between a crash and the delete is absorbed by the
// classifier's de-duplication.
type POP3Fetcher struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
	newConn     pop3ConnFactory
}

// POP3Option customizes fetcher behavior.
type POP3Option func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 fetcher ready for scheduler polling.
func NewPOP3Fetcher(opts ...POP3Option) *POP3Fetcher {
	f := &POP3Fetcher{
		dialTimeout: 10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
	f.newConn = f.defaultConnFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newConn == nil {
		f.newConn = f.defaultConnFactory
	}
	return f
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithPOP3Logger overrides the logger used for fetcher diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3Option {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3Option {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3Option {
	return func(f *POP3Fetcher) {
		f.newConn = factory
	}
}

// Name returns the fetcher identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Fetch connects, lists the mailbox via UIDL, and streams each message to
// the handler. A retrieval failure mid-stream stops the cycle but returns
// how many messages were already handled.
func (f *POP3Fetcher) Fetch(ctx context.Context, cred domain.MailboxCredential, secret []byte, handler Handler) (int, error) {
	if handler == nil {
		return 0, errors.New("pop3 fetcher requires a handler")
	}
	if cred.Username == "" || len(secret) == 0 {
		return 0, errors.New("pop3 credential missing username or secret")
	}

	conn, err := f.newConn(cred)
	if err != nil {
		return 0, fmt.Errorf("pop3 connect: %w", err)
	}
	defer f.safeQuit(conn)

	if err := conn.Auth(cred.Username, string(secret)); err != nil {
		return 0, fmt.Errorf("pop3 auth: %w", err)
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return 0, fmt.Errorf("pop3 uidl: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	processed := 0
	for _, meta := range msgs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		payload, err := conn.RetrRaw(meta.ID)
		if err != nil {
			return processed, fmt.Errorf("pop3 retr %d: %w", meta.ID, err)
		}

		uid := meta.UID
		if uid == "" {
			uid = strconv.Itoa(meta.ID)
		}
		msg := domain.RawBounceMessage{
			MessageID:  fmt.Sprintf("%s:%s", cred.ID, uid),
			Raw:        append([]byte(nil), payload.Bytes()...),
			ReceivedAt: f.now(),
		}
		if err := handler.Handle(ctx, msg); err != nil {
			return processed, fmt.Errorf("handle %s: %w", uid, err)
		}
		processed++

		// Best-effort: a failed delete must not undo the classification
		// that already happened.
		if err := conn.Dele(meta.ID); err != nil {
			f.logger.Printf("[POP3Fetcher] delete %d failed: %v", meta.ID, err)
		}
	}

	return processed, nil
}

func (f *POP3Fetcher) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil && f.logger != nil {
		f.logger.Printf("[POP3Fetcher] quit error: %v", err)
	}
}

func (f *POP3Fetcher) defaultConnFactory(cred domain.MailboxCredential) (pop3Connection, error) {
	if cred.Host == "" {
		return nil, errors.New("pop3 credential missing host")
	}
	port := cred.Port
	if port == 0 {
		if cred.UseTLS() {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:          cred.Host,
		Port:          port,
		DialTimeout:   f.dialTimeout,
		TLSEnabled:    cred.UseTLS(),
		TLSSkipVerify: cred.SkipCertVerify,
	})
	return client.NewConn()
}
