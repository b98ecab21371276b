// Package scheduler – dispatcher.go runs the reminder poller. Every cycle
// claims the due reminders, attempts each delivery once (or a bounded number
// of times when retries are enabled) and removes them from the store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
)

// Sender delivers a due reminder to its destination.
type Sender interface {
	SendReminder(ctx context.Context, r *Reminder) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, r *Reminder) error

// SendReminder calls f(ctx, r).
func (f SenderFunc) SendReminder(ctx context.Context, r *Reminder) error { return f(ctx, r) }

// Notifier mirrors delivered reminders to a secondary service.
// Failures are logged and never affect delivery.
type Notifier interface {
	NotifyReminder(ctx context.Context, r *Reminder) error
}

// DeadLetterSink records reminders whose delivery was abandoned.
type DeadLetterSink interface {
	RecordDeadLetter(r *Reminder, cause error) error
}

// DispatchObserver receives dispatch events (metrics).
type DispatchObserver interface {
	ReminderDelivered()
	ReminderFailed()
	ReminderDeadLettered()
	CycleCompleted(due int, elapsed time.Duration)
}

// DispatcherConfig configures the poller.
type DispatcherConfig struct {
	// Interval between cycles. Defaults to 10 seconds.
	Interval time.Duration `yaml:"interval"`

	// DeliveryTimeout bounds a single delivery attempt. Defaults to 30 seconds.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// Retries is the number of extra attempts after a failed delivery.
	// Zero keeps at-most-once fire-and-forget semantics.
	Retries int `yaml:"delivery_retries"`

	// RetryInterval is the initial backoff between attempts. Defaults to 500ms.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DefaultDispatcherConfig returns the poller defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:        10 * time.Second,
		DeliveryTimeout: 30 * time.Second,
		RetryInterval:   500 * time.Millisecond,
	}
}

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	Due          int
	Delivered    int
	Failed       int
	DeadLettered int
}

// Dispatcher delivers due reminders on a fixed interval.
type Dispatcher struct {
	store    ReminderStore
	sender   Sender
	cfg      DispatcherConfig
	notifier Notifier
	dead     DeadLetterSink
	observer DispatchObserver
	now      func() time.Time

	cron   *cron.Cron
	logger *slog.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher over store delivering through sender.
func NewDispatcher(store ReminderStore, sender Sender, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDispatcherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "dispatcher"),
	}
}

// SetNotifier installs a mirror notifier.
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier = n }

// SetDeadLetterSink installs the sink used when retries are exhausted.
func (d *Dispatcher) SetDeadLetterSink(s DeadLetterSink) { d.dead = s }

// SetObserver installs a metrics observer.
func (d *Dispatcher) SetObserver(o DispatchObserver) { d.observer = o }

// SetClock overrides the time source used by scheduled cycles.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Start purges reminders left claimed by a previous run and begins polling.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		return nil
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	// A claimed reminder that survived a crash was already attempted.
	if n, err := d.store.Remove(func(r *Reminder) bool { return r.Status == StatusDelivered }); err != nil {
		d.logger.Warn("failed to purge claimed reminders", "error", err)
	} else if n > 0 {
		d.logger.Info("purged reminders claimed before restart", "count", n)
	}

	d.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", d.cfg.Interval)
	if _, err := d.cron.AddFunc(spec, func() {
		d.RunCycle(d.ctx, d.now())
	}); err != nil {
		d.cancel()
		d.cron = nil
		return fmt.Errorf("scheduling dispatcher: %w", err)
	}
	d.cron.Start()

	d.logger.Info("dispatcher started",
		"interval", d.cfg.Interval,
		"retries", d.cfg.Retries,
	)
	return nil
}

// Stop halts polling and waits for an in-flight cycle.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			d.logger.Warn("dispatcher stop timed out")
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.logger.Info("dispatcher stopped")
}

// RunCycle performs one dispatch pass at the given instant. Store errors are
// logged and end the cycle; delivery errors affect only their reminder.
func (d *Dispatcher) RunCycle(ctx context.Context, now time.Time) CycleResult {
	start := time.Now()
	var res CycleResult

	due, err := d.store.ListDue(now)
	if err != nil {
		d.logger.Error("failed to list due reminders", "error", err)
		return res
	}
	res.Due = len(due)
	if len(due) == 0 {
		d.observeCycle(0, time.Since(start))
		return res
	}

	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	if err := d.store.MarkDelivered(ids); err != nil {
		d.logger.Error("failed to claim due reminders", "count", len(ids), "error", err)
		return res
	}

	for _, r := range due {
		if err := d.deliver(ctx, r); err != nil {
			res.Failed++
			d.logger.Error("reminder delivery failed",
				"id", r.ID, "destination", r.Destination, "error", err)
			if d.observer != nil {
				d.observer.ReminderFailed()
			}
			if d.cfg.Retries > 0 && d.dead != nil {
				if derr := d.dead.RecordDeadLetter(r, err); derr != nil {
					d.logger.Error("failed to record dead letter", "id", r.ID, "error", derr)
				} else {
					res.DeadLettered++
					if d.observer != nil {
						d.observer.ReminderDeadLettered()
					}
				}
			}
			continue
		}

		res.Delivered++
		d.logger.Info("reminder delivered", "id", r.ID, "destination", r.Destination)
		if d.observer != nil {
			d.observer.ReminderDelivered()
		}
		if d.notifier != nil {
			if err := d.notifier.NotifyReminder(ctx, r); err != nil {
				d.logger.Warn("reminder mirror notification failed", "id", r.ID, "error", err)
			}
		}
	}

	if _, err := d.store.Remove(IDSet(ids)); err != nil {
		d.logger.Error("failed to remove dispatched reminders", "error", err)
	}

	d.observeCycle(res.Due, time.Since(start))
	return res
}

func (d *Dispatcher) observeCycle(due int, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.CycleCompleted(due, elapsed)
	}
}

// deliver sends one reminder, retrying with exponential backoff when enabled.
func (d *Dispatcher) deliver(ctx context.Context, r *Reminder) error {
	attempt := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("sender panicked: %v", p)
			}
		}()
		actx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
		return d.sender.SendReminder(actx, r)
	}

	if d.cfg.Retries == 0 {
		return attempt()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInterval
	b.MaxInterval = 10 * d.cfg.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.Retries)), ctx)
	return backoff.Retry(attempt, policy)
}
