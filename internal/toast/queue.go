// Package toast shows ingested notifications one at a time.
package toast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/inbox"
	"github.com/stanstork/his-notify/internal/models"
)

type State int

const (
	StateIdle State = iota
	StateShowing
)

func (s State) String() string {
	if s == StateShowing {
		return "showing"
	}
	return "idle"
}

// Marker records that a notification was read. *inbox.Store satisfies it.
type Marker interface {
	MarkAsRead(ctx context.Context, ids []string) inbox.MarkResult
}

type Options struct {
	// Roles of the current user; role-targeted notifications need a match.
	Roles []models.UserRole

	// AutoHide closes non-urgent toasts; defaults to 6s.
	AutoHide time.Duration

	// Preferences filters disabled types and supplies the priority a
	// toast is treated with.
	Preferences inbox.PreferenceSource

	Marker    Marker
	Navigator inbox.Navigator
}

type afterFunc func(d time.Duration, f func()) (stop func())

func realAfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Queue is an idle/showing state machine. While a toast is showing, new
// eligible notifications wait in FIFO order.
type Queue struct {
	opts   Options
	logger zerolog.Logger
	after  afterFunc

	mu        sync.Mutex
	current   *models.Notification
	pending   []models.Notification
	stopTimer func()
	gen       uint64
	listeners []func(current *models.Notification)
}

func NewQueue(opts Options, logger zerolog.Logger) *Queue {
	if opts.AutoHide <= 0 {
		opts.AutoHide = 6 * time.Second
	}
	return &Queue{
		opts:   opts,
		logger: logger.With().Str("component", "toast").Logger(),
		after:  realAfterFunc,
	}
}

// Attach offers every notification the store ingests.
func (q *Queue) Attach(s *inbox.Store) (detach func()) {
	return s.Subscribe(func(n models.Notification) { q.Offer(n) })
}

// OnChange registers fn, called with the new current toast (nil when idle)
// after every transition.
func (q *Queue) OnChange(fn func(current *models.Notification)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Eligible reports whether n may be shown as a toast.
func (q *Queue) Eligible(n models.Notification) bool {
	if n.IsSystem {
		return false
	}
	if !models.MatchesRoles(n.UserRoles, q.opts.Roles) {
		return false
	}
	if q.opts.Preferences != nil {
		if prefs, ok := q.opts.Preferences(); ok && !prefs.Allows(n.Type) {
			return false
		}
	}
	return true
}

// Offer queues n when it is eligible and neither showing nor queued.
func (q *Queue) Offer(n models.Notification) bool {
	if !q.Eligible(n) {
		return false
	}

	q.mu.Lock()
	if q.current != nil && q.current.ID == n.ID {
		q.mu.Unlock()
		return false
	}
	for _, p := range q.pending {
		if p.ID == n.ID {
			q.mu.Unlock()
			return false
		}
	}
	q.pending = append(q.pending, n)
	changes := q.promoteLocked(nil)
	listeners := q.listeners
	q.mu.Unlock()

	notify(listeners, changes)
	return true
}

// Current returns the toast being shown.
func (q *Queue) Current() (models.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return models.Notification{}, false
	}
	return *q.current, true
}

// Pending returns the queued toasts in display order.
func (q *Queue) Pending() []models.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Notification(nil), q.pending...)
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		return StateShowing
	}
	return StateIdle
}

// Close dismisses the current toast and promotes the next one.
func (q *Queue) Close() {
	q.dismiss(func(*models.Notification) bool { return true })
}

// Act opens the current toast's link, marks it read and closes it.
func (q *Queue) Act(ctx context.Context) {
	cur, ok := q.Current()
	if !ok {
		return
	}
	if cur.ActionURL != "" && q.opts.Navigator != nil {
		if err := q.opts.Navigator.Open(cur.ActionURL); err != nil {
			q.logger.Warn().Err(err).Str("url", cur.ActionURL).Msg("failed to open link")
		}
	}
	if q.opts.Marker != nil {
		if res := q.opts.Marker.MarkAsRead(ctx, []string{cur.ID}); res.Outcome != inbox.OutcomeCommitted {
			q.logger.Warn().Err(res.Err).Str("notification_id", cur.ID).Msg("mark read from toast rolled back")
		}
	}
	q.dismiss(func(c *models.Notification) bool { return c.ID == cur.ID })
}

func (q *Queue) dismiss(match func(*models.Notification) bool) {
	q.mu.Lock()
	if q.current == nil || !match(q.current) {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.stopLocked()
	changes := q.promoteLocked([]*models.Notification{nil})
	listeners := q.listeners
	q.mu.Unlock()

	notify(listeners, changes)
}

// promoteLocked moves the queue head to current when idle and arms the
// auto-hide timer. It returns changes with the new current appended.
func (q *Queue) promoteLocked(changes []*models.Notification) []*models.Notification {
	if q.current != nil || len(q.pending) == 0 {
		return changes
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next
	q.armLocked()

	shown := next
	return append(changes, &shown)
}

func (q *Queue) armLocked() {
	q.stopLocked()
	q.gen++
	if q.priority(*q.current) == models.PriorityUrgent {
		return
	}
	gen := q.gen
	q.stopTimer = q.after(q.opts.AutoHide, func() { q.expire(gen) })
}

// priority is the user's configured priority for n's type, never below n's own.
func (q *Queue) priority(n models.Notification) models.NotificationPriority {
	if q.opts.Preferences == nil {
		return n.Priority
	}
	prefs, ok := q.opts.Preferences()
	if !ok {
		return n.Priority
	}
	return prefs.EffectivePriority(n)
}

func (q *Queue) stopLocked() {
	if q.stopTimer != nil {
		q.stopTimer()
		q.stopTimer = nil
	}
}

// expire closes the toast the timer was armed for, if it is still showing.
func (q *Queue) expire(gen uint64) {
	q.dismiss(func(*models.Notification) bool { return gen == q.gen })
}

func notify(listeners []func(*models.Notification), changes []*models.Notification) {
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}
