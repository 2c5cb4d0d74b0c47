// Package inbox holds the client-side notification state: the fetched list,
// read state, stats and the real-time connection.
package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/apiclient"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/realtime"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store closed")

// Backend is the REST contract the Store reads from and writes through.
type Backend interface {
	List(ctx context.Context, filters models.NotificationFilters) ([]models.Notification, error)
	Stats(ctx context.Context) (models.NotificationStats, error)
	MarkRead(ctx context.Context, ids []string, isRead bool) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// PreferenceSource returns the current user's preferences, or false when
// none are loaded.
type PreferenceSource func() (models.NotificationPreferences, bool)

type Options struct {
	// MaxHistory caps the list; the oldest entries are dropped first.
	MaxHistory     int
	DesktopTimeout time.Duration
	SoundEnabled   bool

	Sound     SoundPlayer
	Desktop   DesktopNotifier
	Navigator Navigator

	// Preferences decides the priority alerts are played at and which
	// channels are on. Without it every notification alerts at its own priority.
	Preferences PreferenceSource

	// NotFound reports upstream not-found errors, which count as success.
	NotFound func(error) bool
	Now      func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MaxHistory:     200,
		DesktopTimeout: 5 * time.Second,
		SoundEnabled:   true,
	}
}

// State is a point-in-time copy of the Store.
type State struct {
	Notifications []models.Notification
	Stats         models.NotificationStats
	Filters       models.NotificationFilters
	SoundEnabled  bool
	Connected     bool
	Loading       bool
	Error         string
}

type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// MarkResult tells whether an optimistic read-state change stuck.
type MarkResult struct {
	Outcome Outcome
	Err     error
}

type Store struct {
	backend   Backend
	transport realtime.Transport
	opts      Options
	logger    zerolog.Logger

	// connMu serializes transport connect/disconnect. It is never held
	// together with mu, because transport delivery takes mu.
	connMu sync.Mutex

	mu            sync.Mutex
	notifications []models.Notification
	stats         models.NotificationStats
	filters       models.NotificationFilters
	soundEnabled  bool
	connected     bool
	errMsg        string
	closed        bool

	// fetches counts in-flight list requests. Arrivals recorded while it is
	// non-zero stay on top of a stale result.
	fetches  int
	arrivals map[string]models.Notification

	// deleting counts unresolved upstream deletes per id. settled holds ids
	// deleted upstream while a fetch was in flight. Fetch results never
	// bring back either.
	deleting map[string]int
	settled  map[string]struct{}

	subscribers map[int]func(models.Notification)
	nextSub     int
}

func New(backend Backend, transport realtime.Transport, opts Options, logger zerolog.Logger) *Store {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 200
	}
	if opts.DesktopTimeout <= 0 {
		opts.DesktopTimeout = 5 * time.Second
	}
	if opts.NotFound == nil {
		opts.NotFound = apiclient.IsNotFound
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:      backend,
		transport:    transport,
		opts:         opts,
		logger:       logger.With().Str("component", "inbox").Logger(),
		stats:        models.NewNotificationStats(),
		soundEnabled: opts.SoundEnabled,
		arrivals:     make(map[string]models.Notification),
		deleting:     make(map[string]int),
		settled:      make(map[string]struct{}),
		subscribers:  make(map[int]func(models.Notification)),
	}
}

// FetchNotifications replaces the list with the backend result, newest first.
// On failure the previous list is kept and the error recorded.
func (s *Store) FetchNotifications(ctx context.Context, filters models.NotificationFilters) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.fetches++
	s.filters = filters
	s.mu.Unlock()

	list, err := s.backend.List(ctx, filters)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches--
	defer s.resetFetchTracking()

	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.errMsg = err.Error()
		s.logger.Error().Err(err).Msg("failed to fetch notifications")
		return err
	}

	seen := make(map[string]struct{}, len(list))
	merged := make([]models.Notification, 0, len(list)+len(s.arrivals))
	for _, n := range list {
		if s.deletedLocked(n.ID) {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		merged = append(merged, n)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	// notifications pushed while the request was in flight stay on top
	var pushed []models.Notification
	for _, n := range s.notifications {
		if _, ok := s.arrivals[n.ID]; !ok {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		pushed = append(pushed, n)
	}
	s.notifications = s.capped(append(pushed, merged...))
	return nil
}

func (s *Store) resetFetchTracking() {
	if s.fetches > 0 {
		return
	}
	if len(s.settled) > 0 {
		s.settled = make(map[string]struct{})
	}
	if len(s.arrivals) > 0 {
		s.arrivals = make(map[string]models.Notification)
	}
}

// FetchStats refreshes the stats. Failures are recorded like fetch failures.
func (s *Store) FetchStats(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	stats, err := s.backend.Stats(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.errMsg = err.Error()
		s.logger.Warn().Err(err).Msg("failed to fetch notification stats")
		return err
	}
	s.stats = stats
	return nil
}

// MarkAsRead flips ids to read locally, then confirms upstream. On failure
// only the entries this call flipped are restored.
func (s *Store) MarkAsRead(ctx context.Context, ids []string) MarkResult {
	if len(ids) == 0 {
		return MarkResult{Outcome: OutcomeCommitted}
	}
	if s.isClosed() {
		return MarkResult{Outcome: OutcomeRolledBack, Err: ErrClosed}
	}
	flipped := s.setRead(ids, true)

	err := s.backend.MarkRead(ctx, ids, true)
	return s.settle(ids, flipped, err)
}

// MarkAllAsRead applies to the notifications unread when it is called.
// Notifications arriving while the request is in flight stay unread locally.
func (s *Store) MarkAllAsRead(ctx context.Context) MarkResult {
	if s.isClosed() {
		return MarkResult{Outcome: OutcomeRolledBack, Err: ErrClosed}
	}
	s.mu.Lock()
	var unread []string
	for _, n := range s.notifications {
		if !n.IsRead {
			unread = append(unread, n.ID)
		}
	}
	s.mu.Unlock()

	flipped := s.setRead(unread, true)
	err := s.backend.MarkAllRead(ctx)
	return s.settle(unread, flipped, err)
}

func (s *Store) settle(ids, flipped []string, err error) MarkResult {
	if err != nil && !s.opts.NotFound(err) {
		s.setRead(flipped, false)
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		s.logger.Error().Err(err).Int("count", len(flipped)).Msg("failed to mark notifications read, rolled back")
		return MarkResult{Outcome: OutcomeRolledBack, Err: err}
	}
	// a fetch resolving meanwhile may have brought back stale unread copies
	s.setRead(ids, true)
	return MarkResult{Outcome: OutcomeCommitted}
}

// setRead sets IsRead on the listed ids and returns those whose value changed.
func (s *Store) setRead(ids []string, read bool) []string {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for i := range s.notifications {
		n := &s.notifications[i]
		if _, ok := want[n.ID]; ok && n.IsRead != read {
			n.IsRead = read
			changed = append(changed, n.ID)
		}
	}
	return changed
}

// DeleteNotification removes id locally and upstream. Unknown ids and
// upstream not-found are not errors. Other failures restore the entry.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	idx := -1
	var removed models.Notification
	for i, n := range s.notifications {
		if n.ID == id {
			idx, removed = i, n
			break
		}
	}
	if idx >= 0 {
		s.notifications = append(s.notifications[:idx:idx], s.notifications[idx+1:]...)
	}
	s.deleting[id]++
	delete(s.arrivals, id)
	s.mu.Unlock()

	err := s.backend.Delete(ctx, id)
	deleted := err == nil || s.opts.NotFound(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseDeleteLocked(id, deleted)
	if deleted {
		return nil
	}
	s.errMsg = err.Error()
	s.logger.Error().Err(err).Str("notification_id", id).Msg("failed to delete notification")
	if idx >= 0 && !s.closed && s.indexOf(id) < 0 && s.deleting[id] == 0 {
		if idx > len(s.notifications) {
			idx = len(s.notifications)
		}
		s.notifications = append(s.notifications[:idx:idx], append([]models.Notification{removed}, s.notifications[idx:]...)...)
	}
	return err
}

// releaseDeleteLocked ends one pending delete of id. A successful delete
// stays filtered until every fetch in flight has resolved.
func (s *Store) releaseDeleteLocked(id string, deleted bool) {
	if s.deleting[id] <= 1 {
		delete(s.deleting, id)
	} else {
		s.deleting[id]--
	}
	if deleted && s.fetches > 0 {
		s.settled[id] = struct{}{}
	}
}

func (s *Store) deletedLocked(id string) bool {
	if s.deleting[id] > 0 {
		return true
	}
	_, ok := s.settled[id]
	return ok
}

// ConnectRealTime subscribes the Store to the transport. It is a no-op when
// already connected.
func (s *Store) ConnectRealTime(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.transport.OnNotification(func(n models.Notification) { s.AddNotification(n) })
	if err := s.transport.Connect(ctx); err != nil {
		s.transport.Disconnect()
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("failed to connect real-time transport")
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Store) DisconnectRealTime() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if wasConnected {
		s.transport.Disconnect()
	}
}

// ToggleSound flips sound playback and returns the new value.
func (s *Store) ToggleSound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soundEnabled = !s.soundEnabled
	return s.soundEnabled
}

// AddNotification ingests a pushed notification. Duplicate ids and ids whose
// delete is still settling are ignored. It reports whether n was added.
func (s *Store) AddNotification(n models.Notification) bool {
	s.mu.Lock()
	if s.closed || s.indexOf(n.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	if s.deletedLocked(n.ID) {
		s.mu.Unlock()
		return false
	}
	s.notifications = s.capped(append([]models.Notification{n}, s.notifications...))
	if s.fetches > 0 {
		s.arrivals[n.ID] = n
	}
	sound := s.soundEnabled
	subs := s.subscriberSnapshot()
	s.mu.Unlock()

	priority, soundOn, pushOn := s.delivery(n)
	if sound && soundOn && !n.IsRead {
		s.playSound(n, priority)
	}
	if pushOn {
		s.showDesktop(n, priority)
	}

	for _, fn := range subs {
		fn(n)
	}
	return true
}

// delivery resolves the priority n alerts at and whether the sound and
// desktop channels apply. Types the user disabled stay in the list silently.
func (s *Store) delivery(n models.Notification) (priority models.NotificationPriority, sound, push bool) {
	if s.opts.Preferences == nil {
		return n.Priority, true, true
	}
	prefs, ok := s.opts.Preferences()
	if !ok {
		return n.Priority, true, true
	}
	if !prefs.Allows(n.Type) {
		return n.Priority, false, false
	}
	return prefs.EffectivePriority(n), prefs.EnableSound, prefs.EnablePush
}

func (s *Store) playSound(n models.Notification, priority models.NotificationPriority) {
	if s.opts.Sound == nil {
		return
	}
	if err := s.opts.Sound.Play(priority.SoundAsset()); err != nil {
		s.logger.Debug().Err(err).Str("notification_id", n.ID).Msg("sound playback failed")
	}
}

func (s *Store) showDesktop(n models.Notification, priority models.NotificationPriority) {
	d := s.opts.Desktop
	if d == nil || d.Permission() != PermissionGranted {
		return
	}
	opts := DesktopOptions{
		Timeout: s.opts.DesktopTimeout,
		Icon:    n.Type.Icon(),
		Tag:     n.ID,
	}
	if priority == models.PriorityUrgent {
		opts.Timeout = 0
	}
	onClick := func() {
		if s.opts.Navigator != nil {
			s.opts.Navigator.Focus()
			if n.ActionURL != "" {
				if err := s.opts.Navigator.Open(n.ActionURL); err != nil {
					s.logger.Warn().Err(err).Str("url", n.ActionURL).Msg("failed to open link")
				}
			}
		}
		s.MarkAsRead(context.Background(), []string{n.ID})
	}
	if err := d.Show(n, opts, onClick); err != nil {
		s.logger.Debug().Err(err).Str("notification_id", n.ID).Msg("desktop notification failed")
	}
}

// Subscribe registers fn for every ingested notification.
func (s *Store) Subscribe(fn func(models.Notification)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) subscriberSnapshot() []func(models.Notification) {
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(models.Notification), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subscribers[id])
	}
	return out
}

func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Notifications: append([]models.Notification(nil), s.notifications...),
		Stats:         s.stats,
		Filters:       s.filters,
		SoundEnabled:  s.soundEnabled,
		Connected:     s.connected,
		Loading:       s.fetches > 0,
		Error:         s.errMsg,
	}
}

// Notifications returns the active view: the list without expired entries.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Store) UnreadCount() int {
	count := 0
	for _, n := range s.Notifications() {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// LocalStats derives stats from the active view without a backend call.
func (s *Store) LocalStats() models.NotificationStats {
	return models.ComputeStats(s.Notifications())
}

// Close disconnects the transport and stops every later update.
func (s *Store) Close() {
	s.DisconnectRealTime()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subscribers = make(map[int]func(models.Notification))
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) activeLocked() []models.Notification {
	now := s.opts.Now()
	out := make([]models.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if !n.Expired(now) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) indexOf(id string) int {
	for i, n := range s.notifications {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) capped(list []models.Notification) []models.Notification {
	if len(list) > s.opts.MaxHistory {
		return list[:s.opts.MaxHistory]
	}
	return list
}
