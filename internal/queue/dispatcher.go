package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/syncer"
)

// Runner executes one sync pass
type Runner interface {
	Run(ctx context.Context, accountID string) error
}

// Directory resolves accounts and tier cadences at delivery time, and
// applies the terminal credential-revocation actions.
type Directory interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CadenceForTier(ctx context.Context, tier int) (time.Duration, error)
	DeleteCredential(ctx context.Context, id string) error
	DeactivateAccount(ctx context.Context, id, reason string) error
}

// CacheInvalidator drops an account's cached read views after a sync
type CacheInvalidator interface {
	InvalidateAccount(ctx context.Context, accountID string) error
}

// Config holds dispatcher tunables
type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffCap   time.Duration
	PollInterval time.Duration
	PopBatch     int
}

// Dispatcher drains the schedule and fans work out to a bounded worker
// pool. Per-account exclusivity is enforced with an in-flight set: a
// message for an account already mid-sync is pushed back by one poll
// interval instead of running concurrently.
type Dispatcher struct {
	scheduler *Scheduler
	runner    Runner
	directory Directory
	cache     CacheInvalidator
	cfg       Config
	logger    *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(scheduler *Scheduler, runner Runner, directory Directory, cache CacheInvalidator, cfg Config, logger *logging.Logger) (*Dispatcher, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 6 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PopBatch <= 0 {
		cfg.PopBatch = cfg.Workers
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Dispatcher{
		scheduler: scheduler,
		runner:    runner,
		directory: directory,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start launches the poll loop
func (d *Dispatcher) Start() {
	d.logger.WithFields(map[string]interface{}{
		"workers":      d.cfg.Workers,
		"pollInterval": d.cfg.PollInterval.String(),
	}).Info("Starting sync dispatcher")

	go d.pollLoop()
}

// Stop shuts the dispatcher down and waits for in-flight work to finish
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
	d.wg.Wait()
	d.logger.Info("Sync dispatcher stopped")
}

func (d *Dispatcher) pollLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, d.cfg.Workers)

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.drain(sem)
		}
	}
}

func (d *Dispatcher) drain(sem chan struct{}) {
	ctx := context.Background()

	due, err := d.scheduler.PopDue(ctx, d.cfg.PopBatch)
	if err != nil {
		d.logger.WithError(err).Error("Failed to pop due sync messages")
		return
	}

	for _, accountID := range due {
		if !d.claim(accountID) {
			// A previous message for this account is still running;
			// serialize by pushing the new one back.
			if err := d.scheduler.Schedule(ctx, accountID, d.cfg.PollInterval); err != nil {
				d.logger.WithField("account", accountID).WithError(err).Error("Failed to requeue in-flight account")
			}
			continue
		}

		sem <- struct{}{}
		d.wg.Add(1)
		go func(id string) {
			defer d.wg.Done()
			defer func() { <-sem }()
			defer d.release(id)
			d.handle(context.Background(), id)
		}(accountID)
	}
}

func (d *Dispatcher) claim(accountID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[accountID]; ok {
		return false
	}
	d.inFlight[accountID] = struct{}{}
	return true
}

func (d *Dispatcher) release(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, accountID)
}

// handle processes one delivered message end to end
func (d *Dispatcher) handle(ctx context.Context, accountID string) {
	logger := d.logger.WithField("account", accountID)

	err := d.runner.Run(ctx, accountID)

	switch {
	case err == nil:
		d.onSuccess(ctx, accountID, logger)

	case errors.Is(err, syncer.ErrAccountInactive):
		// Clean drop: the loop for this account simply ends.
		if clearErr := d.scheduler.ClearAttempts(ctx, accountID); clearErr != nil {
			logger.WithError(clearErr).Error("Failed to clear attempts for inactive account")
		}

	case apperrors.IsCredentialRevoked(err):
		d.onRevoked(ctx, accountID, err, logger)

	default:
		d.onFailure(ctx, accountID, err, logger)
	}
}

func (d *Dispatcher) onSuccess(ctx context.Context, accountID string, logger *logging.Logger) {
	if err := d.scheduler.ClearAttempts(ctx, accountID); err != nil {
		logger.WithError(err).Error("Failed to clear attempt counter")
	}
	if err := d.cache.InvalidateAccount(ctx, accountID); err != nil {
		logger.WithError(err).Error("Failed to invalidate account cache")
	}

	cadence, err := d.cadenceFor(ctx, accountID)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve tier cadence, account will be recovered by the next cycle")
		return
	}

	// Success re-arms the per-account loop at the tier's cadence. The
	// tier is read fresh here, so a reprioritization between enqueue and
	// delivery takes effect immediately.
	if err := d.scheduler.Schedule(ctx, accountID, cadence); err != nil {
		logger.WithError(err).Error("Failed to reschedule account after sync")
	}
}

func (d *Dispatcher) onRevoked(ctx context.Context, accountID string, cause error, logger *logging.Logger) {
	logger.WithError(cause).Warn("Credential revoked by provider, terminating sync loop")

	if err := d.directory.DeleteCredential(ctx, accountID); err != nil {
		logger.WithError(err).Error("Failed to delete revoked credential")
	}
	if err := d.directory.DeactivateAccount(ctx, accountID, "credential revoked"); err != nil {
		logger.WithError(err).Error("Failed to deactivate account after revocation")
	}
	if err := d.scheduler.ClearAttempts(ctx, accountID); err != nil {
		logger.WithError(err).Error("Failed to clear attempt counter after revocation")
	}
}

func (d *Dispatcher) onFailure(ctx context.Context, accountID string, cause error, logger *logging.Logger) {
	attempts, err := d.scheduler.IncrAttempts(ctx, accountID)
	if err != nil {
		logger.WithError(err).Error("Failed to increment attempt counter")
		return
	}

	if attempts >= d.cfg.MaxAttempts {
		reason := logging.RedactSecrets(cause.Error())
		logger.WithField("attempts", attempts).Error("Sync retries exhausted, dead-lettering account")
		if dlErr := d.scheduler.MoveToDeadLetter(ctx, accountID, reason, attempts); dlErr != nil {
			logger.WithError(dlErr).Error("Failed to dead-letter account")
		}
		return
	}

	cadence, cadErr := d.cadenceFor(ctx, accountID)
	if cadErr != nil {
		logger.WithError(cadErr).Error("Failed to resolve tier cadence for retry")
		return
	}

	delay := RetryDelay(cadence, attempts, d.cfg.BackoffCap)
	logger.WithFields(map[string]interface{}{
		"attempt": attempts,
		"delay":   delay.String(),
	}).WithError(cause).Warn("Sync failed, retrying with backoff")

	if schedErr := d.scheduler.Schedule(ctx, accountID, delay); schedErr != nil {
		logger.WithError(schedErr).Error("Failed to schedule retry")
	}
}

func (d *Dispatcher) cadenceFor(ctx context.Context, accountID string) (time.Duration, error) {
	account, err := d.directory.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return d.directory.CadenceForTier(ctx, account.SyncTier)
}

// RetryDelay computes the backoff for a failed attempt:
// min(tierDelay * 2^(attempt-1), maxDelay).
func RetryDelay(tierDelay time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := tierDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
