package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metis-devops/metis-checkin/internal/account"
	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/metrics"
)

// maxSleep bounds a single wait so wall-clock jumps and host suspend are
// noticed within a minute.
const maxSleep = time.Minute

// Checker reads the contract's last check-in time. Implemented by
// *chain.Client.
type Checker interface {
	LastCheckIn(ctx context.Context, addr common.Address) (time.Time, error)
}

// Executor performs one check-in. Implemented by *executor.Engine.
type Executor interface {
	Execute(ctx context.Context, acct account.Account) (*types.Receipt, error)
}

type Config struct {
	CooldownWindow  time.Duration
	SafetyMargin    time.Duration
	RescanInterval  time.Duration
	FailureDelay    time.Duration
	SeedDueAccounts bool
}

type Scheduler struct {
	cfg     Config
	store   *account.Store
	checker Checker
	exec    Executor
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	refresh chan struct{}
	stopped context.Context
	stop    context.CancelFunc

	mu           sync.Mutex
	queue        *Queue
	live         map[common.Address]*Task
	running      bool
	lastRun      time.Time
	lastSuccess  time.Time
	lastFailure  time.Time
	failingSince time.Time
	lastErr      string
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(cfg Config, store *account.Store, checker Checker, exec Executor, log logx.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		checker: checker,
		exec:    exec,
		log:     log.With(logx.String("component", "scheduler")),
		now:     time.Now,
		refresh: make(chan struct{}, 1),
		queue:   NewQueue(),
		live:    make(map[common.Address]*Task),
	}
	s.stopped, s.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Schedule queues acct at at, replacing any task already pending for it.
func (s *Scheduler) Schedule(acct account.Account, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stale, ok := s.live[acct.Address]; ok {
		s.queue.Remove(stale)
		s.log.Debug("replacing pending task",
			logx.String("account", acct.Hex()),
			logx.Time("was", stale.At),
			logx.Time("now", at))
	}
	t := &Task{At: at, Account: acct}
	s.queue.Push(t)
	s.live[acct.Address] = t
	s.metrics.SetPending(s.queue.Len())
}

// nextEligible derives when the contract accepts the next check-in.
func (s *Scheduler) nextEligible(ctx context.Context, acct account.Account) (time.Time, error) {
	last, err := s.checker.LastCheckIn(ctx, acct.Address)
	if err != nil {
		return time.Time{}, err
	}
	return last.Add(s.cfg.CooldownWindow + s.cfg.SafetyMargin), nil
}

// Rescan re-derives every account's next eligible time from the contract
// and queues the ones still in the future. Accounts that are already
// eligible are only queued (for now) with SeedDueAccounts. It returns the
// number of tasks queued.
func (s *Scheduler) Rescan(ctx context.Context) int {
	s.metrics.Rescan()
	queued := 0
	for _, acct := range s.store.All() {
		if ctx.Err() != nil {
			break
		}
		log := s.log.With(logx.String("account", acct.Hex()))

		now := s.now()
		next, err := s.nextEligible(ctx, acct)
		if err != nil {
			log.Error("failed to read last check-in, treating as due", logx.Err(err))
			next = now
		}

		switch {
		case next.After(now):
			s.Schedule(acct, next)
			queued++
			log.Info("scheduled", logx.Time("at", next), logx.Duration("in", next.Sub(now).Round(time.Second)))
		case s.cfg.SeedDueAccounts:
			s.Schedule(acct, now)
			queued++
			log.Info("already eligible, scheduled now")
		default:
			log.Warn("already eligible, not scheduled", logx.Time("eligibleSince", next))
		}
	}
	s.log.Info("rescan finished", logx.Int("accounts", s.store.Len()), logx.Int("queued", queued), logx.Int("pending", s.Len()))
	return queued
}

// reschedule queues acct's next attempt after a task fired at firedAt. If
// the contract does not report a future eligible time (failed submission,
// query error) the account is retried after FailureDelay.
func (s *Scheduler) reschedule(ctx context.Context, acct account.Account, firedAt time.Time) time.Time {
	log := s.log.With(logx.String("account", acct.Hex()))

	next, err := s.nextEligible(ctx, acct)
	now := s.now()
	if err != nil {
		log.Error("failed to read last check-in after execution", logx.Err(err))
	}
	if err != nil || !next.After(now) {
		next = now.Add(s.cfg.FailureDelay)
		if !next.After(firedAt) {
			next = firedAt.Add(s.cfg.FailureDelay)
		}
		log.Warn("not yet checked in on-chain, retrying later", logx.Time("at", next))
	} else {
		log.Info("next check-in scheduled", logx.Time("at", next))
	}

	s.Schedule(acct, next)
	return next
}

// popDue removes and returns the earliest task if it is due.
func (s *Scheduler) popDue(now time.Time) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.queue.Peek()
	if t == nil || t.At.After(now) {
		return nil
	}
	s.queue.Pop()
	if s.live[t.Account.Address] == t {
		delete(s.live, t.Account.Address)
	}
	s.metrics.SetPending(s.queue.Len())
	return t
}

// Drain executes due tasks one at a time, earliest first, and re-queues
// each account whatever the outcome. It stops early once ctx is done; an
// execution that already started is allowed to finish.
func (s *Scheduler) Drain(ctx context.Context) int {
	executed := 0
	for ctx.Err() == nil {
		t := s.popDue(s.now())
		if t == nil {
			break
		}
		s.run(context.WithoutCancel(ctx), t)
		executed++
	}
	return executed
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	log := s.log.With(logx.String("account", t.Account.Hex()))
	log.Info("executing check-in", logx.Time("due", t.At))

	_, err := s.exec.Execute(ctx, t.Account)

	s.mu.Lock()
	s.lastRun = s.now()
	if err != nil {
		s.lastFailure = s.lastRun
		s.lastErr = err.Error()
		if s.failingSince.IsZero() {
			s.failingSince = s.lastRun
		}
	} else {
		s.lastSuccess = s.lastRun
		s.failingSince = time.Time{}
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("check-in failed", logx.Err(err))
	}
	s.reschedule(ctx, t.Account, t.At)
}

// delay is how long the loop sleeps before its next wake-up.
func (s *Scheduler) delay() time.Duration {
	s.mu.Lock()
	next := s.queue.Peek()
	s.mu.Unlock()

	if next == nil {
		return s.cfg.RescanInterval
	}
	d := next.At.Sub(s.now())
	if d < 0 {
		d = 0
	}
	if d > maxSleep {
		d = maxSleep
	}
	return d
}

// Refresh asks a running loop for an immediate rescan.
func (s *Scheduler) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Stop cancels the pending timer and ends Run. It does not interrupt an
// execution in progress. Stop is permanent: a Run started afterwards
// returns immediately.
func (s *Scheduler) Stop() {
	s.stop()
}

// Run seeds the queue from the contract and then fires tasks as they come
// due until ctx is cancelled or Stop is called. With an empty queue it
// rescans every RescanInterval.
func (s *Scheduler) Run(basectx context.Context) error {
	if s.stopped.Err() != nil {
		s.log.Info("already stopped")
		return nil
	}
	ctx, cancel := context.WithCancel(basectx)
	defer cancel()
	unhook := context.AfterFunc(s.stopped, cancel)
	defer unhook()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log.Info("starting", logx.Int("accounts", s.store.Len()))
	s.Rescan(ctx)

	timer := time.NewTimer(s.delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping", logx.Int("pending", s.Len()))
			return nil
		case <-s.refresh:
			s.log.Info("refresh requested")
			s.Rescan(ctx)
		case <-timer.C:
			if s.Len() == 0 {
				s.Rescan(ctx)
			} else {
				s.Drain(ctx)
			}
		}
		if ctx.Err() != nil {
			continue
		}

		d := s.delay()
		if s.Len() == 0 {
			s.log.Info("queue empty, waiting for rescan", logx.Duration("in", d))
		} else {
			s.log.Debug("sleeping", logx.Duration("for", d))
		}
		timer.Reset(d)
	}
}
