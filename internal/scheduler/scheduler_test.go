package scheduler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/deliverability-guard/internal/classifier"
	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/mailbox"
	"github.com/ignite/deliverability-guard/internal/pkg/secrets"
	"github.com/ignite/deliverability-guard/internal/reputation"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
	"github.com/ignite/deliverability-guard/internal/service/credentials"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
	"github.com/ignite/deliverability-guard/internal/training"
)

// ---- in-memory collaborators ----

type memDomainRepo struct {
	mu      sync.Mutex
	domains []domain.SendingDomain
	checked map[string]time.Time
}

func (m *memDomainRepo) ListBounceEnabled(context.Context) ([]domain.SendingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SendingDomain, len(m.domains))
	copy(out, m.domains)
	return out, nil
}

func (m *memDomainRepo) MarkBounceChecked(_ context.Context, domainID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checked == nil {
		m.checked = make(map[string]time.Time)
	}
	m.checked[domainID] = at
	return nil
}

type memCredRepo struct {
	mu       sync.Mutex
	creds    []domain.MailboxCredential
	checked  map[string]int
	lastErrs map[string]domain.CredentialError
}

func (m *memCredRepo) ActiveForDomain(_ context.Context, domainID string) ([]domain.MailboxCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MailboxCredential
	for _, c := range m.creds {
		if c.DomainID != nil && *c.DomainID == domainID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCredRepo) ActiveDefaults(context.Context) ([]domain.MailboxCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MailboxCredential
	for _, c := range m.creds {
		if c.DomainID == nil && c.IsDefault {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCredRepo) MarkChecked(_ context.Context, credentialID string, processed int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checked == nil {
		m.checked = make(map[string]int)
	}
	m.checked[credentialID] += processed
	delete(m.lastErrs, credentialID)
	return nil
}

func (m *memCredRepo) SetError(_ context.Context, credentialID string, e domain.CredentialError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErrs == nil {
		m.lastErrs = make(map[string]domain.CredentialError)
	}
	m.lastErrs[credentialID] = e
	return nil
}

func (m *memCredRepo) Get(_ context.Context, credentialID string) (*domain.MailboxCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.creds {
		if m.creds[i].ID == credentialID {
			return &m.creds[i], nil
		}
	}
	return nil, errors.New("not found")
}

type memLogRepo struct {
	mu      sync.Mutex
	records map[string]*domain.BounceRecord
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
	m.records[r.DomainID+"/"+r.MessageID] = r
	return nil
}

func (m *memLogRepo) CountsByCategory(context.Context, string, time.Time, time.Time) (domain.BounceCounts, error) {
	return domain.BounceCounts{}, nil
}

func (m *memLogRepo) List(context.Context, string, int, int) ([]domain.BounceRecord, error) {
	return nil, nil
}

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

func (m *memSuppRepo) Remove(context.Context, string) error { return nil }

func (m *memSuppRepo) List(context.Context, suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	return nil, 0, nil
}

func (m *memSuppRepo) Count(context.Context) (int, error) { return 0, nil }

type memHistory struct {
	mu    sync.Mutex
	snaps []*domain.ReputationSnapshot
}

func (m *memHistory) UpsertSnapshot(_ context.Context, s *domain.ReputationSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memHistory) Latest(context.Context, string) (*domain.ReputationSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return nil, nil
	}
	return m.snaps[len(m.snaps)-1], nil
}

func (m *memHistory) Trend(context.Context, string, time.Time, time.Time) ([]domain.ReputationSnapshot, error) {
	return nil, nil
}

type memTrainingRepo struct {
	mu      sync.Mutex
	configs map[string]*domain.TrainingConfig
}

func (m *memTrainingRepo) ForDomain(_ context.Context, domainID string) (*domain.TrainingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.configs[domainID]
	if !ok {
		return nil, training.ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (m *memTrainingRepo) Save(_ context.Context, tc *domain.TrainingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tc
	m.configs[tc.DomainID] = &cp
	return nil
}

type staticDelivery struct {
	metrics domain.DeliveryMetrics
}

func (s *staticDelivery) DeliveryWindow(context.Context, string, time.Time, time.Time) (domain.DeliveryMetrics, error) {
	return s.metrics, nil
}

// fakeFetcher streams canned messages and counts invocations.
type fakeFetcher struct {
	mu       sync.Mutex
	messages []domain.RawBounceMessage
	err      error
	calls    int
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, _ domain.MailboxCredential, _ []byte, h mailbox.Handler) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, msg := range f.messages {
		if err := h.Handle(ctx, msg); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct{ fetcher mailbox.Fetcher }

func (f *fakeResolver) FetcherFor(domain.MailboxCredential) (mailbox.Fetcher, error) {
	return f.fetcher, nil
}

// ---- fixture ----

const dsnBounce = "From: MAILER-DAEMON@mx.example.net\r\n" +
	"X-Failed-Recipients: bob@example.com\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"550 5.1.1 User unknown\r\n"

type fixture struct {
	sched    *Scheduler
	domains  *memDomainRepo
	creds    *memCredRepo
	logRepo  *memLogRepo
	suppRepo *memSuppRepo
	history  *memHistory
	train    *memTrainingRepo
	fetcher  *fakeFetcher
	redis    *redis.Client
	cipher   *secrets.Cipher
}

func testKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x2a}, 32))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cipher, err := secrets.New(testKey())
	require.NoError(t, err)

	f := &fixture{
		domains:  &memDomainRepo{},
		creds:    &memCredRepo{},
		logRepo:  newMemLogRepo(),
		suppRepo: newMemSuppRepo(),
		history:  &memHistory{},
		train:    &memTrainingRepo{configs: make(map[string]*domain.TrainingConfig)},
		fetcher:  &fakeFetcher{},
		redis:    client,
		cipher:   cipher,
	}

	logSvc := bouncelog.NewService(f.logRepo)
	suppSvc := suppression.NewService(f.suppRepo)

	f.sched = New(Deps{
		Domains:    f.domains,
		Resolver:   credentials.NewResolver(f.creds),
		Cipher:     cipher,
		Fetchers:   &fakeResolver{fetcher: f.fetcher},
		Classifier: classifier.New(logSvc, suppSvc),
		Scorer:     reputation.NewScorer(logSvc, f.history, reputation.DefaultRiskThresholds()),
		TrainRepo:  f.train,
		Controller: training.NewController(f.train),
		Delivery:   &staticDelivery{metrics: domain.DeliveryMetrics{Sent: 100, Delivered: 98}},
		Redis:      client,
	}, Config{TickInterval: time.Hour})
	return f
}

func (f *fixture) addDomain(t *testing.T, d domain.SendingDomain) {
	t.Helper()
	f.domains.domains = append(f.domains.domains, d)
}

func (f *fixture) addCredential(t *testing.T, id, domainID, password string) {
	t.Helper()
	enc, err := f.cipher.Encrypt([]byte(password))
	require.NoError(t, err)
	cred := domain.MailboxCredential{
		ID:              id,
		Protocol:        domain.ProtocolIMAP,
		Host:            "mx.example.net",
		Username:        "bounces@example.net",
		EncryptedSecret: enc,
		IsActive:        true,
	}
	if domainID != "" {
		cred.DomainID = &domainID
	} else {
		cred.IsDefault = true
	}
	f.creds.creds = append(f.creds.creds, cred)
}

// ---- tests ----

func TestTick_PollsDueDomain(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", Name: "news.example", BounceProcessing: true})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")
	f.fetcher.messages = []domain.RawBounceMessage{
		{MessageID: "cred-1:1", Raw: []byte(dsnBounce), ReceivedAt: time.Now()},
	}

	f.sched.Tick(context.Background())

	assert.Equal(t, 1, f.fetcher.callCount())
	assert.Len(t, f.logRepo.records, 1, "the fetched bounce reaches the log")
	assert.Contains(t, f.suppRepo.store, "bob@example.com")
	assert.Equal(t, 1, f.creds.checked["cred-1"], "cycle bookkeeping lands on the credential")
	assert.Contains(t, f.domains.checked, "dom-1")
}

func TestTick_SkipsDomainNotDue(t *testing.T) {
	f := newFixture(t)
	recent := time.Now().UTC().Add(-time.Minute)
	f.addDomain(t, domain.SendingDomain{
		ID:                "dom-1",
		BounceProcessing:  true,
		CheckInterval:     5 * time.Minute,
		LastBounceCheckAt: &recent,
	})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")

	f.sched.Tick(context.Background())
	assert.Zero(t, f.fetcher.callCount())
}

func TestTick_FallsBackToDefaultCredential(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", BounceProcessing: true})
	f.addCredential(t, "cred-default", "", "hunter2")

	f.sched.Tick(context.Background())
	assert.Equal(t, 1, f.fetcher.callCount())
	assert.Contains(t, f.creds.checked, "cred-default")
}

func TestTick_NoCredentialIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", BounceProcessing: true})

	f.sched.Tick(context.Background())
	assert.Zero(t, f.fetcher.callCount())
}

func TestTick_SkipsCredentialLockedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", BounceProcessing: true})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")

	// Another process holds the lock.
	require.NoError(t, f.redis.Set(context.Background(),
		"guard:lock:credential:cred-1", "other-owner", time.Minute).Err())

	f.sched.Tick(context.Background())
	assert.Zero(t, f.fetcher.callCount())
}

func TestTick_FetchErrorRecordedOnCredential(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", Name: "news.example", BounceProcessing: true})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")
	f.fetcher.err = errors.New("connection refused")

	f.sched.Tick(context.Background())

	e, ok := f.creds.lastErrs["cred-1"]
	require.True(t, ok, "a failed poll must leave a structured error")
	assert.Contains(t, e.Message, "connection refused")
	assert.Contains(t, f.domains.checked, "dom-1",
		"a broken mailbox retries on its interval, not every tick")
}

func TestTick_MalformedRuleOverridesFallBackToDefaults(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{
		ID:                "dom-1",
		Name:              "news.example",
		BounceProcessing:  true,
		RuleOverridesJSON: []byte(`{"hard": [`),
	})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")
	f.fetcher.messages = []domain.RawBounceMessage{
		{MessageID: "cred-1:1", Raw: []byte(dsnBounce), ReceivedAt: time.Now()},
	}

	f.sched.Tick(context.Background())

	rec, ok := f.logRepo.records["dom-1/cred-1:1"]
	require.True(t, ok, "a bad override must not stop the poll")
	assert.Equal(t, domain.BounceHard, rec.Category, "the default rules classify the bounce")
	assert.Contains(t, f.suppRepo.store, "bob@example.com")
}

func TestTick_SuccessfulCycleClearsCredentialError(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", Name: "news.example", BounceProcessing: true})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")

	f.fetcher.err = errors.New("connection refused")
	f.sched.Tick(context.Background())
	require.Contains(t, f.creds.lastErrs, "cred-1")

	f.fetcher.err = nil
	f.sched.Tick(context.Background())

	assert.NotContains(t, f.creds.lastErrs, "cred-1",
		"the next successful cycle clears the credential error")
	assert.Contains(t, f.creds.checked, "cred-1")
}

func TestTick_LockReleasedAfterCycle(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", BounceProcessing: true})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")

	f.sched.Tick(context.Background())

	n, err := f.redis.Exists(context.Background(), "guard:lock:credential:cred-1").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "the credential lock must not outlive the cycle")
}

func TestTick_RunsAnalysisAndAdjustsLimit(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{
		ID:               "dom-1",
		Name:             "news.example",
		BounceProcessing: true,
		TrainingEnabled:  true,
	})
	f.addCredential(t, "cred-1", "dom-1", "hunter2")
	f.train.configs["dom-1"] = &domain.TrainingConfig{
		DomainID:   "dom-1",
		DailyLimit: 1000,
		Status:     domain.TrainingActive,
		CreatedAt:  time.Now().UTC().Add(-30 * 24 * time.Hour),
	}

	f.sched.Tick(context.Background())

	// No bounces, 98% delivery: score 100, limit +10%.
	require.Len(t, f.history.snaps, 1)
	assert.Equal(t, 100.0, f.history.snaps[0].Score)
	assert.Equal(t, 1100, f.train.configs["dom-1"].DailyLimit)
	assert.NotNil(t, f.train.configs["dom-1"].LastAnalysisAt)
}

func TestTick_SkipsPausedTraining(t *testing.T) {
	f := newFixture(t)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", BounceProcessing: false, TrainingEnabled: true})
	f.train.configs["dom-1"] = &domain.TrainingConfig{
		DomainID:   "dom-1",
		DailyLimit: 1000,
		Status:     domain.TrainingPaused,
	}

	f.sched.Tick(context.Background())
	assert.Empty(t, f.history.snaps)
	assert.Equal(t, 1000, f.train.configs["dom-1"].DailyLimit)
}

func TestTick_AnalysisNotDueWithinFrequency(t *testing.T) {
	f := newFixture(t)
	last := time.Now().UTC().Add(-time.Hour)
	f.addDomain(t, domain.SendingDomain{ID: "dom-1", TrainingEnabled: true})
	f.train.configs["dom-1"] = &domain.TrainingConfig{
		DomainID:          "dom-1",
		DailyLimit:        1000,
		Status:            domain.TrainingActive,
		AnalysisFrequency: 24 * time.Hour,
		LastAnalysisAt:    &last,
	}

	f.sched.Tick(context.Background())
	assert.Empty(t, f.history.snaps)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.sched.Start()
	f.sched.Start() // idempotent
	f.sched.Stop()
	f.sched.Stop() // idempotent
}
