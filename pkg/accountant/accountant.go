// Package accountant implements the Token Accountant (spec §4.M): it
// enforces weekly per-user token budgets and resets usage every Monday via
// a scheduled sweep.
package accountant

import (
	"context"
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/robfig/cron/v3"
)

// Store is the narrow repository dependency: load/save of per-user budget
// state. The accountant applies optimistic updates against it, per §5's
// "may use optimistic updates ... an over-limit race that temporarily
// overshoots the budget by one concurrent request is accepted".
type Store interface {
	LoadUser(ctx context.Context, userID string) (gwtypes.UserState, error)
	SaveUser(ctx context.Context, user gwtypes.UserState) error
}

// Accountant enforces weekly budgets.
type Accountant struct {
	log   logging.Logger
	store Store

	defaultWeeklyBudget int64

	mu  sync.Mutex
	cr  *cron.Cron
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithDefaultWeeklyBudget sets the budget assigned to a user record seen
// for the first time (WeekStart still zero), per §4.M's provisioning note.
func WithDefaultWeeklyBudget(tokens int64) Option {
	return func(a *Accountant) { a.defaultWeeklyBudget = tokens }
}

// New creates an Accountant backed by store.
func New(log logging.Logger, store Store, opts ...Option) *Accountant {
	a := &Accountant{log: log, store: store}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// provision fills in a first-seen user's weekly budget and week start.
func (a *Accountant) provision(user *gwtypes.UserState) {
	if user.WeekStart.IsZero() {
		user.WeekStart = time.Now()
		if user.WeeklyTokenBudget == 0 {
			user.WeeklyTokenBudget = a.defaultWeeklyBudget
		}
	}
}

// Check returns nil if user has enough remaining budget to cover
// estInput, or ErrBudgetExceeded otherwise.
func (a *Accountant) Check(ctx context.Context, userID string, estInput int64) error {
	user, err := a.store.LoadUser(ctx, userID)
	if err != nil {
		return err
	}
	a.provision(&user)
	if user.Remaining() < estInput {
		return gwtypes.ErrBudgetExceeded
	}
	return a.store.SaveUser(ctx, user)
}

// Add records used tokens against user's weekly consumption.
func (a *Accountant) Add(ctx context.Context, userID string, used int64) error {
	user, err := a.store.LoadUser(ctx, userID)
	if err != nil {
		return err
	}
	a.provision(&user)
	user.ConsumedThisWeek += used
	return a.store.SaveUser(ctx, user)
}

// StartWeeklySweep registers a cron job firing every Monday at 00:00 that
// resets week_start and zeroes usage for every known user. users lists the
// user IDs to sweep; in production this is populated from the repository's
// user index.
func (a *Accountant) StartWeeklySweep(users func(ctx context.Context) ([]string, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cr = cron.New()
	_, err := a.cr.AddFunc("0 0 * * MON", func() {
		ctx := context.Background()
		ids, err := users(ctx)
		if err != nil {
			if a.log != nil {
				a.log.WithError(err).Errorf("weekly sweep: failed to list users")
			}
			return
		}
		now := time.Now()
		for _, id := range ids {
			user, err := a.store.LoadUser(ctx, id)
			if err != nil {
				if a.log != nil {
					a.log.WithError(err).WithField("user", id).Warnf("weekly sweep: load failed")
				}
				continue
			}
			user.ConsumedThisWeek = 0
			user.WeekStart = now
			if err := a.store.SaveUser(ctx, user); err != nil && a.log != nil {
				a.log.WithError(err).WithField("user", id).Warnf("weekly sweep: save failed")
			}
		}
	})
	if err != nil {
		return err
	}
	a.cr.Start()
	return nil
}

// Stop stops the sweep cron, if running.
func (a *Accountant) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cr != nil {
		a.cr.Stop()
	}
}
