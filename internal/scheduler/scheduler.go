// Package scheduler drives the periodic per-domain work: polling bounce
// mailboxes on each domain's check interval and running the reputation
// analysis cycle on each domain's analysis frequency. Domains are processed
// concurrently but each mailbox credential is serialized with a Redis lock
// plus an in-process guard, so overlapping ticks never poll the same mailbox
// twice.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-guard/internal/classifier"
	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/mailbox"
	"github.com/ignite/deliverability-guard/internal/pkg/distlock"
	"github.com/ignite/deliverability-guard/internal/pkg/secrets"
	"github.com/ignite/deliverability-guard/internal/reputation"
	"github.com/ignite/deliverability-guard/internal/rules"
	"github.com/ignite/deliverability-guard/internal/service/credentials"
	"github.com/ignite/deliverability-guard/internal/training"
)

// DomainRepository lists the domains the scheduler owns and records poll
// bookkeeping on them.
type DomainRepository interface {
	// ListBounceEnabled returns domains with bounce processing switched on.
	ListBounceEnabled(ctx context.Context) ([]domain.SendingDomain, error)

	// MarkBounceChecked bumps the domain's last poll timestamp.
	MarkBounceChecked(ctx context.Context, domainID string, at time.Time) error
}

// DeliverySource supplies the sending pipeline's delivery metrics for a
// window. The guard only reads these; they are produced elsewhere.
type DeliverySource interface {
	DeliveryWindow(ctx context.Context, domainID string, from, to time.Time) (domain.DeliveryMetrics, error)
}

// FetcherResolver resolves the mailbox fetcher for a credential's protocol.
type FetcherResolver interface {
	FetcherFor(cred domain.MailboxCredential) (mailbox.Fetcher, error)
}

// Config holds scheduler tuning knobs.
type Config struct {
	TickInterval             time.Duration // how often due-ness is evaluated
	MaxConcurrent            int           // domain cycles in flight at once
	DefaultCheckInterval     time.Duration // bounce poll interval when the domain sets none
	DefaultAnalysisFrequency time.Duration // analysis interval when the config sets none
	LockTTL                  time.Duration // credential lock lifetime
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:             30 * time.Second,
		MaxConcurrent:            5,
		DefaultCheckInterval:     300 * time.Second,
		DefaultAnalysisFrequency: 24 * time.Hour,
		LockTTL:                  10 * time.Minute,
	}
}

// Scheduler owns the tick loop and the per-domain cycle.
type Scheduler struct {
	domains    DomainRepository
	resolver   *credentials.Resolver
	cipher     *secrets.Cipher
	fetchers   FetcherResolver
	classifier *classifier.Classifier
	scorer     *reputation.Scorer
	trainRepo  training.Repository
	controller *training.Controller
	delivery   DeliverySource
	redis      *redis.Client

	cfg Config
	now func() time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// In-process guard against double-polling a credential within this
	// worker; the Redis lock covers other processes.
	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Domains    DomainRepository
	Resolver   *credentials.Resolver
	Cipher     *secrets.Cipher
	Fetchers   FetcherResolver
	Classifier *classifier.Classifier
	Scorer     *reputation.Scorer
	TrainRepo  training.Repository
	Controller *training.Controller
	Delivery   DeliverySource
	Redis      *redis.Client
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(deps Deps, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DefaultCheckInterval <= 0 {
		cfg.DefaultCheckInterval = def.DefaultCheckInterval
	}
	if cfg.DefaultAnalysisFrequency <= 0 {
		cfg.DefaultAnalysisFrequency = def.DefaultAnalysisFrequency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}

	return &Scheduler{
		domains:    deps.Domains,
		resolver:   deps.Resolver,
		cipher:     deps.Cipher,
		fetchers:   deps.Fetchers,
		classifier: deps.Classifier,
		scorer:     deps.Scorer,
		trainRepo:  deps.TrainRepo,
		controller: deps.Controller,
		delivery:   deps.Delivery,
		redis:      deps.Redis,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		inFlight:   make(map[string]bool),
	}
}

// WithClock overrides the scheduler's clock, primarily for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start begins the scheduler background goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting with tick=%s, max_concurrent=%d",
		s.cfg.TickInterval, s.cfg.MaxConcurrent)

	s.wg.Add(1)
	go s.tickLoop()
}

// Stop gracefully stops the scheduler, waiting for in-flight cycles.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	log.Println("[Scheduler] Stopping...")
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// Run once on startup so a restart doesn't wait a full tick.
	s.Tick(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick evaluates due-ness for every enabled domain and runs the due cycles,
// bounded by MaxConcurrent. One domain's failure never affects another.
func (s *Scheduler) Tick(ctx context.Context) {
	doms, err := s.domains.ListBounceEnabled(ctx)
	if err != nil {
		log.Printf("[Scheduler] list domains: %v", err)
		return
	}

	now := s.now()
	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range doms {
		d := doms[i]
		pollDue := s.pollDue(d, now)
		analysisDue, tc := s.analysisDue(ctx, d, now)
		if !pollDue && !analysisDue {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if pollDue {
				if err := s.pollDomain(ctx, d); err != nil {
					log.Printf("[Scheduler] poll %s: %v", d.Name, err)
				}
			}
			if analysisDue {
				if err := s.analyzeDomain(ctx, d, tc); err != nil {
					log.Printf("[Scheduler] analyze %s: %v", d.Name, err)
				}
			}
		}()
	}
	wg.Wait()
}

// pollDue applies the domain's check interval against its last poll.
func (s *Scheduler) pollDue(d domain.SendingDomain, now time.Time) bool {
	if !d.BounceProcessing {
		return false
	}
	interval := d.CheckInterval
	if interval <= 0 {
		interval = s.cfg.DefaultCheckInterval
	}
	if d.LastBounceCheckAt == nil {
		return true
	}
	return now.Sub(*d.LastBounceCheckAt) >= interval
}

// analysisDue applies the training config's analysis frequency. Domains
// without training, or with a paused/completed config, are never analyzed
// here; their reputation can still be computed on demand through the API.
func (s *Scheduler) analysisDue(ctx context.Context, d domain.SendingDomain, now time.Time) (bool, *domain.TrainingConfig) {
	if !d.TrainingEnabled || s.trainRepo == nil {
		return false, nil
	}
	tc, err := s.trainRepo.ForDomain(ctx, d.ID)
	if err != nil {
		if !errors.Is(err, training.ErrNotFound) {
			log.Printf("[Scheduler] training config %s: %v", d.Name, err)
		}
		return false, nil
	}
	if tc.Status != domain.TrainingWarmup && tc.Status != domain.TrainingActive {
		return false, nil
	}
	freq := tc.AnalysisFrequency
	if freq <= 0 {
		freq = s.cfg.DefaultAnalysisFrequency
	}
	if tc.LastAnalysisAt == nil {
		return true, tc
	}
	return now.Sub(*tc.LastAnalysisAt) >= freq, tc
}

// pollDomain runs one bounce poll cycle: resolve the credential, take the
// per-credential locks, stream the mailbox into the classifier, and record
// the outcome on the credential and the domain.
func (s *Scheduler) pollDomain(ctx context.Context, d domain.SendingDomain) error {
	cred, err := s.resolver.Resolve(ctx, d.ID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConfigured) {
			log.Printf("[Scheduler] %s: no mailbox credential, skipping", d.Name)
			return nil
		}
		return err
	}

	if !s.markInFlight(cred.ID) {
		return nil
	}
	defer s.clearInFlight(cred.ID)

	lock := distlock.New(s.redis, cred.ID, s.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		log.Printf("[Scheduler] %s: credential %s locked elsewhere, skipping", d.Name, cred.ID)
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	secret, err := s.cipher.Decrypt(cred.EncryptedSecret)
	if err != nil {
		s.resolver.RecordFailure(ctx, cred.ID, "decrypt", err)
		return err
	}

	fetcher, err := s.fetchers.FetcherFor(*cred)
	if err != nil {
		s.resolver.RecordFailure(ctx, cred.ID, "protocol", err)
		return err
	}

	rs, err := rules.ForDomain(d)
	if err != nil {
		// ForDomain already fell back to the defaults.
		log.Printf("[Scheduler] %s: %v", d.Name, err)
	}
	handler := mailbox.HandlerFunc(func(ctx context.Context, msg domain.RawBounceMessage) error {
		_, err := s.classifier.Process(ctx, d.ID, rs, msg)
		return err
	})

	processed, fetchErr := fetcher.Fetch(ctx, *cred, secret, handler)

	// The poll happened; due-ness resets even on failure so a broken
	// mailbox is retried on its normal interval, not every tick.
	if err := s.domains.MarkBounceChecked(ctx, d.ID, s.now()); err != nil {
		log.Printf("[Scheduler] mark checked %s: %v", d.Name, err)
	}

	if fetchErr != nil {
		s.resolver.RecordFailure(ctx, cred.ID, fetcher.Name(), fetchErr)
		return fetchErr
	}
	if err := s.resolver.RecordSuccess(ctx, cred.ID, processed); err != nil {
		return err
	}
	if processed > 0 {
		log.Printf("[Scheduler] %s: processed %d bounce messages", d.Name, processed)
	}
	return nil
}

// analyzeDomain runs one analysis cycle: score the window since the last
// analysis and feed the snapshot into the rate controller.
func (s *Scheduler) analyzeDomain(ctx context.Context, d domain.SendingDomain, tc *domain.TrainingConfig) error {
	now := s.now()
	freq := tc.AnalysisFrequency
	if freq <= 0 {
		freq = s.cfg.DefaultAnalysisFrequency
	}
	from := now.Add(-freq)
	if tc.LastAnalysisAt != nil {
		from = *tc.LastAnalysisAt
	}
	w := reputation.Window{From: from, To: now}

	metrics, err := s.delivery.DeliveryWindow(ctx, d.ID, w.From, w.To)
	if err != nil {
		return err
	}

	snap, err := s.scorer.ScoreDomain(ctx, d.ID, w, metrics)
	if err != nil {
		return err
	}

	if _, err := s.controller.Adjust(ctx, tc, snap); err != nil {
		return err
	}
	log.Printf("[Scheduler] %s: score=%.1f risk=%s limit=%d",
		d.Name, snap.Score, snap.Risk, tc.DailyLimit)
	return nil
}

func (s *Scheduler) markInFlight(credentialID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if s.inFlight[credentialID] {
		return false
	}
	s.inFlight[credentialID] = true
	return true
}

func (s *Scheduler) clearInFlight(credentialID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, credentialID)
}
