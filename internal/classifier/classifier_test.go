package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/rules"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory bounce log repository.
type memLogRepo struct {
	mu      sync.Mutex
	records map[string]*domain.BounceRecord // keyed by domainID+"/"+messageID
}

func newMemLogRepo() *memLogRepo {
	return &memLogRepo{records: make(map[string]*domain.BounceRecord)}
}

func (m *memLogRepo) Exists(_ context.Context, domainID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[domainID+"/"+messageID]
	return ok, nil
}

func (m *memLogRepo) Insert(_ context.Context, r *domain.BounceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.DomainID + "/" + r.MessageID
	if _, ok := m.records[key]; !ok {
		m.records[key] = r
	}
	return nil
}

func (m *memLogRepo) CountsByCategory(_ context.Context, domainID string, from, to time.Time) (domain.BounceCounts, error) {
	var c domain.BounceCounts
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.DomainID != domainID {
			continue
		}
		switch r.Category {
		case domain.BounceHard:
			c.Hard++
		case domain.BounceSoft:
			c.Soft++
		case domain.BounceSpam:
			c.Spam++
		case domain.BounceBlock:
			c.Block++
		default:
			c.Unknown++
		}
	}
	return c, nil
}

func (m *memLogRepo) List(_ context.Context, domainID string, limit, offset int) ([]domain.BounceRecord, error) {
	return nil, nil
}

// In-memory suppression repository.
type memSuppRepo struct {
	mu    sync.Mutex
	store map[string]*domain.SuppressionEntry
}

func newMemSuppRepo() *memSuppRepo {
	return &memSuppRepo{store: make(map[string]*domain.SuppressionEntry)}
}

func (m *memSuppRepo) IsSuppressed(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store[email]
	return ok, nil
}

func (m *memSuppRepo) Upsert(_ context.Context, e *domain.SuppressionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[e.Email] = e
	return nil
}

func (m *memSuppRepo) Remove(_ context.Context, email string) error { return nil }

func (m *memSuppRepo) List(_ context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	return nil, 0, nil
}

func (m *memSuppRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

func newTestClassifier() (*Classifier, *memLogRepo, *memSuppRepo) {
	logRepo := newMemLogRepo()
	suppRepo := newMemSuppRepo()
	return New(bouncelog.NewService(logRepo), suppression.NewService(suppRepo)), logRepo, suppRepo
}

const dsnHardBounce = "From: MAILER-DAEMON@mx.example.net\r\n" +
	"To: campaigns@sender.example\r\n" +
	"Subject: Delivery Status Notification (Failure)\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Your message could not be delivered to one or more recipients.\r\n" +
	"--b1\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; mx.example.net\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; Bob@Example.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"Diagnostic-Code: smtp; 550 5.1.1 User not found\r\n" +
	"--b1--\r\n"

func rawMsg(id, body string) domain.RawBounceMessage {
	return domain.RawBounceMessage{
		MessageID:  id,
		Raw:        []byte(body),
		ReceivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcess_DSNHardBounceSuppressesRecipient(t *testing.T) {
	c, logRepo, suppRepo := newTestClassifier()
	ctx := context.Background()

	rec, err := c.Process(ctx, "dom-1", rules.Default(), rawMsg("m-1", dsnHardBounce))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.BounceProcessed, rec.Status)
	assert.Equal(t, domain.BounceHard, rec.Category)
	assert.Equal(t, "bob@example.com", rec.Recipient, "recipient is normalized")
	assert.Contains(t, rec.Reason, "User not found")

	require.Len(t, logRepo.records, 1)
	entry, ok := suppRepo.store["bob@example.com"]
	require.True(t, ok, "hard bounce must suppress the recipient")
	assert.Equal(t, domain.SuppressionBounce, entry.Type)
	assert.Equal(t, domain.SourceBounceMailbox, entry.Source)
	assert.Equal(t, "dom-1", entry.Metadata["domain_id"])
}

func TestProcess_Idempotent(t *testing.T) {
	c, logRepo, suppRepo := newTestClassifier()
	ctx := context.Background()

	first, err := c.Process(ctx, "dom-1", rules.Default(), rawMsg("m-1", dsnHardBounce))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.Process(ctx, "dom-1", rules.Default(), rawMsg("m-1", dsnHardBounce))
	require.NoError(t, err)
	assert.Nil(t, second, "redelivered message must not produce a second record")

	assert.Len(t, logRepo.records, 1)
	n, _ := suppRepo.Count(ctx)
	assert.Equal(t, 1, n)
}

// flakySuppRepo fails the first N upserts, then behaves normally.
type flakySuppRepo struct {
	*memSuppRepo
	failures int
}

func (f *flakySuppRepo) Upsert(ctx context.Context, e *domain.SuppressionEntry) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("suppression store unavailable")
	}
	return f.memSuppRepo.Upsert(ctx, e)
}

func TestProcess_RedeliveryRetriesFailedSuppression(t *testing.T) {
	logRepo := newMemLogRepo()
	suppRepo := &flakySuppRepo{memSuppRepo: newMemSuppRepo(), failures: 1}
	c := New(bouncelog.NewService(logRepo), suppression.NewService(suppRepo))
	ctx := context.Background()

	_, err := c.Process(ctx, "dom-1", rules.Default(), rawMsg("m-1", dsnHardBounce))
	require.Error(t, err, "a failed suppression write aborts the cycle")
	require.Len(t, logRepo.records, 1, "the record insert already happened")
	assert.NotContains(t, suppRepo.store, "bob@example.com")

	// The mailbox redelivers the unmarked message next cycle. The record
	// de-dups, but the suppression must still land.
	rec, err := c.Process(ctx, "dom-1", rules.Default(), rawMsg("m-1", dsnHardBounce))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Contains(t, suppRepo.store, "bob@example.com",
		"a hard-bounced recipient is eventually suppressed")
	assert.Len(t, logRepo.records, 1)
}

func TestProcess_SoftBounceNotSuppressed(t *testing.T) {
	c, _, suppRepo := newTestClassifier()

	body := "From: MAILER-DAEMON@mx.example.net\r\n" +
		"X-Failed-Recipients: carol@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"452 4.2.2 Mailbox full, try again later\r\n"

	rec, err := c.Process(context.Background(), "dom-1", rules.Default(), rawMsg("m-2", body))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.BounceSoft, rec.Category)
	assert.Equal(t, "carol@example.com", rec.Recipient)
	n, _ := suppRepo.Count(context.Background())
	assert.Zero(t, n, "soft bounces never suppress")
}

func TestProcess_SpamSuppressedAsComplaint(t *testing.T) {
	c, _, suppRepo := newTestClassifier()

	body := "From: MAILER-DAEMON@mx.example.net\r\n" +
		"X-Failed-Recipients: dave@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"554 Message classified as spam by content filter\r\n"

	rec, err := c.Process(context.Background(), "dom-1", rules.Default(), rawMsg("m-3", body))
	require.NoError(t, err)
	require.Equal(t, domain.BounceSpam, rec.Category)

	entry, ok := suppRepo.store["dave@example.com"]
	require.True(t, ok)
	assert.Equal(t, domain.SuppressionComplaint, entry.Type)
}

func TestProcess_UnparsableMessageWritesFailedRecord(t *testing.T) {
	c, logRepo, _ := newTestClassifier()

	rec, err := c.Process(context.Background(), "dom-1", rules.Default(), domain.RawBounceMessage{
		MessageID: "m-4",
		Raw:       nil,
	})
	require.NoError(t, err, "a malformed message must not abort the cycle")
	require.NotNil(t, rec)

	assert.Equal(t, domain.BounceFailed, rec.Status)
	assert.Equal(t, domain.BounceUnknown, rec.Category)
	assert.NotEmpty(t, rec.Error)
	assert.Len(t, logRepo.records, 1, "failed records are still logged for audit")
}

func TestProcess_UnknownCategoryKept(t *testing.T) {
	c, _, suppRepo := newTestClassifier()

	body := "From: postmaster@mx.example.net\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Out of office: back next week\r\n"

	rec, err := c.Process(context.Background(), "dom-1", rules.Default(), rawMsg("m-5", body))
	require.NoError(t, err)
	assert.Equal(t, domain.BounceUnknown, rec.Category, "unmatched text is tagged unknown, not dropped")
	n, _ := suppRepo.Count(context.Background())
	assert.Zero(t, n)
}

func TestExtractEnvelope_FallbackOnMalformedMIME(t *testing.T) {
	raw := "not-a-header\njust some words\n\n550 user not found"
	env, err := extractEnvelope([]byte(raw))
	require.NoError(t, err)
	assert.True(t, strings.Contains(env.Diagnostic, "user not found"))
}
