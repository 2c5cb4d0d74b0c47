package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/apiclient"
	"github.com/stanstork/his-notify/internal/models"
	"github.com/stanstork/his-notify/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	list      []models.Notification
	listErr   error
	listGate  chan struct{}
	stats     models.NotificationStats
	statsErr  error
	markErr   error
	deleteErr error
	marked    [][]string
	markAll   int
	deleted   []string

	// gates block the matching call after it is recorded
	markAllGate chan struct{}
	deleteGate  chan struct{}
}

func (f *fakeBackend) List(ctx context.Context, _ models.NotificationFilters) ([]models.Notification, error) {
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.list...), f.listErr
}

func (f *fakeBackend) Stats(context.Context) (models.NotificationStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeBackend) MarkRead(_ context.Context, ids []string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, ids)
	return f.markErr
}

func (f *fakeBackend) MarkAllRead(context.Context) error {
	f.mu.Lock()
	f.markAll++
	gate := f.markAllGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.markErr
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	gate := f.deleteGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.deleteErr
}

func (f *fakeBackend) calls() (markAll, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markAll, len(f.deleted)
}

type fakeSound struct {
	mu     sync.Mutex
	assets []string
	err    error
}

func (f *fakeSound) Play(asset string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = append(f.assets, asset)
	return f.err
}

type fakeDesktop struct {
	perm    Permission
	shown   []DesktopOptions
	onClick func()
}

func (f *fakeDesktop) Permission() Permission { return f.perm }

func (f *fakeDesktop) Show(_ models.Notification, opts DesktopOptions, onClick func()) error {
	f.shown = append(f.shown, opts)
	f.onClick = onClick
	return nil
}

type fakeNavigator struct {
	focused int
	opened  []string
}

func (f *fakeNavigator) Focus() { f.focused++ }

func (f *fakeNavigator) Open(url string) error {
	f.opened = append(f.opened, url)
	return nil
}

func newStore(t *testing.T, backend *fakeBackend, mutate func(*Options)) *Store {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	tr := realtime.NewSimulatedTransport(realtime.SimulatedOptions{Interval: time.Hour}, zerolog.Nop())
	s := New(backend, tr, opts, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func notif(id string, p models.NotificationPriority) models.Notification {
	return models.Notification{ID: id, Type: models.NotificationTypeReminder, Priority: p, Title: id, CreatedAt: time.Now()}
}

func ids(list []models.Notification) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.ID)
	}
	return out
}

func TestAddNotificationPrependsAndDedupes(t *testing.T) {
	s := newStore(t, &fakeBackend{}, nil)
	base := time.Now()

	// prepend order wins over createdAt
	for i, id := range []string{"a", "b", "c"} {
		n := notif(id, models.PriorityLow)
		n.CreatedAt = base.Add(-time.Duration(i) * time.Hour)
		assert.True(t, s.AddNotification(n))
	}
	assert.False(t, s.AddNotification(notif("b", models.PriorityLow)))

	assert.Equal(t, []string{"c", "b", "a"}, ids(s.Notifications()))
}

func TestAddNotificationCapsHistory(t *testing.T) {
	s := newStore(t, &fakeBackend{}, func(o *Options) { o.MaxHistory = 2 })

	s.AddNotification(notif("a", models.PriorityLow))
	s.AddNotification(notif("b", models.PriorityLow))
	s.AddNotification(notif("c", models.PriorityLow))

	assert.Equal(t, []string{"c", "b"}, ids(s.State().Notifications))
}

func TestAddNotificationSideEffects(t *testing.T) {
	sound := &fakeSound{err: errors.New("autoplay blocked")}
	desktop := &fakeDesktop{perm: PermissionGranted}
	nav := &fakeNavigator{}
	backend := &fakeBackend{}
	s := newStore(t, backend, func(o *Options) {
		o.Sound, o.Desktop, o.Navigator = sound, desktop, nav
	})

	urgent := notif("u", models.PriorityUrgent)
	urgent.ActionURL = "/admissions/a1"
	require.True(t, s.AddNotification(urgent))

	read := notif("r", models.PriorityLow)
	read.IsRead = true
	require.True(t, s.AddNotification(read))

	// playback errors are swallowed; read notifications are silent
	assert.Equal(t, []string{models.PriorityUrgent.SoundAsset()}, sound.assets)

	require.Len(t, desktop.shown, 2)
	assert.Zero(t, desktop.shown[0].Timeout, "urgent stays until interaction")
	assert.Equal(t, 5*time.Second, desktop.shown[1].Timeout)

	s.ToggleSound()
	s.AddNotification(notif("quiet", models.PriorityHigh))
	assert.Len(t, sound.assets, 1)

	desktop.shown = nil
	assert.False(t, s.AddNotification(urgent))
	assert.Empty(t, desktop.shown)
}

func TestDesktopClickNavigatesAndMarksRead(t *testing.T) {
	desktop := &fakeDesktop{perm: PermissionGranted}
	nav := &fakeNavigator{}
	backend := &fakeBackend{}
	s := newStore(t, backend, func(o *Options) { o.Desktop, o.Navigator = desktop, nav })

	n := notif("n1", models.PriorityHigh)
	n.ActionURL = "/beds/12"
	s.AddNotification(n)
	require.NotNil(t, desktop.onClick)

	desktop.onClick()
	assert.Equal(t, 1, nav.focused)
	assert.Equal(t, []string{"/beds/12"}, nav.opened)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, [][]string{{"n1"}}, backend.marked)
}

func TestDesktopSkippedWithoutPermission(t *testing.T) {
	desktop := &fakeDesktop{perm: PermissionDenied}
	s := newStore(t, &fakeBackend{}, func(o *Options) { o.Desktop = desktop })

	s.AddNotification(notif("n1", models.PriorityUrgent))
	assert.Empty(t, desktop.shown)
	assert.Len(t, s.Notifications(), 1)
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))

	for i := 0; i < 2; i++ {
		res := s.MarkAsRead(context.Background(), []string{"a"})
		assert.Equal(t, OutcomeCommitted, res.Outcome)
		assert.NoError(t, res.Err)
	}
	assert.True(t, s.Notifications()[0].IsRead)
	assert.Empty(t, s.State().Error)
}

func TestMarkAsReadRollsBackOnlyWhatItFlipped(t *testing.T) {
	backend := &fakeBackend{}
	s := newStore(t, backend, nil)
	already := notif("already", models.PriorityLow)
	already.IsRead = true
	s.AddNotification(already)
	s.AddNotification(notif("fresh", models.PriorityLow))

	backend.markErr = errors.New("503 service unavailable")
	res := s.MarkAsRead(context.Background(), []string{"already", "fresh"})
	assert.Equal(t, OutcomeRolledBack, res.Outcome)
	assert.Equal(t, "rolled_back", res.Outcome.String())
	assert.Error(t, res.Err)

	byID := map[string]bool{}
	for _, n := range s.Notifications() {
		byID[n.ID] = n.IsRead
	}
	assert.True(t, byID["already"])
	assert.False(t, byID["fresh"])
	assert.Contains(t, s.State().Error, "503")

	s.ClearError()
	assert.Empty(t, s.State().Error)
}

func TestMarkAsReadUpstreamNotFoundCommits(t *testing.T) {
	backend := &fakeBackend{markErr: &apiclient.StatusError{Code: 404}}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))

	res := s.MarkAsRead(context.Background(), []string{"a"})
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.True(t, s.Notifications()[0].IsRead)
}

func TestDeleteNotification(t *testing.T) {
	backend := &fakeBackend{}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))
	s.AddNotification(notif("b", models.PriorityLow))

	require.NoError(t, s.DeleteNotification(context.Background(), "a"))
	assert.Equal(t, []string{"b"}, ids(s.Notifications()))

	// unknown id: list unchanged, no error even if upstream says 404
	backend.deleteErr = &apiclient.StatusError{Code: 404}
	require.NoError(t, s.DeleteNotification(context.Background(), "zzz"))
	assert.Equal(t, []string{"b"}, ids(s.Notifications()))
}

func TestDeleteNotificationFailureRestores(t *testing.T) {
	backend := &fakeBackend{deleteErr: errors.New("connection refused")}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))
	s.AddNotification(notif("b", models.PriorityLow))
	s.AddNotification(notif("c", models.PriorityLow))

	require.Error(t, s.DeleteNotification(context.Background(), "b"))
	assert.Equal(t, []string{"c", "b", "a"}, ids(s.Notifications()))
	assert.Contains(t, s.State().Error, "connection refused")
}

func TestFetchNotificationsSortsAndKeepsPreviousOnError(t *testing.T) {
	base := time.Now()
	older, newer := notif("old", models.PriorityLow), notif("new", models.PriorityLow)
	older.CreatedAt, newer.CreatedAt = base.Add(-time.Hour), base
	backend := &fakeBackend{list: []models.Notification{older, newer}}
	s := newStore(t, backend, nil)

	require.NoError(t, s.FetchNotifications(context.Background(), models.NotificationFilters{Limit: 10}))
	assert.Equal(t, []string{"new", "old"}, ids(s.Notifications()))
	assert.Equal(t, 10, s.State().Filters.Limit)
	assert.False(t, s.State().Loading)

	backend.listErr = errors.New("timeout")
	require.Error(t, s.FetchNotifications(context.Background(), models.NotificationFilters{}))
	assert.Equal(t, []string{"new", "old"}, ids(s.Notifications()))
	assert.Equal(t, "timeout", s.State().Error)
}

func TestFetchDoesNotResurrectDeletedOrDropPushed(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{
		list:     []models.Notification{notif("a", models.PriorityLow), notif("b", models.PriorityLow)},
		listGate: gate,
	}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))

	done := make(chan error, 1)
	go func() { done <- s.FetchNotifications(context.Background(), models.NotificationFilters{}) }()
	require.Eventually(t, func() bool { return s.State().Loading }, time.Second, time.Millisecond)

	require.NoError(t, s.DeleteNotification(context.Background(), "a"))
	s.AddNotification(notif("pushed", models.PriorityHigh))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"pushed", "b"}, ids(s.Notifications()))

	// once settled, a later fetch may legitimately return "a" again
	require.NoError(t, s.FetchNotifications(context.Background(), models.NotificationFilters{}))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(s.Notifications()))
}

func TestFetchStatsRecordsErrors(t *testing.T) {
	stats := models.NewNotificationStats()
	stats.Total = 4
	backend := &fakeBackend{stats: stats}
	s := newStore(t, backend, nil)

	require.NoError(t, s.FetchStats(context.Background()))
	assert.Equal(t, 4, s.State().Stats.Total)

	backend.statsErr = errors.New("stats down")
	require.Error(t, s.FetchStats(context.Background()))
	assert.Equal(t, 4, s.State().Stats.Total)
	assert.Equal(t, "stats down", s.State().Error)
}

func TestExpiredHiddenFromActiveView(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newStore(t, &fakeBackend{}, func(o *Options) { o.Now = func() time.Time { return now } })

	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	expired := notif("expired", models.PriorityLow)
	expired.ExpiresAt = &past
	live := notif("live", models.PriorityLow)
	live.ExpiresAt = &future
	s.AddNotification(expired)
	s.AddNotification(live)

	assert.Equal(t, []string{"live"}, ids(s.Notifications()))
	assert.Len(t, s.State().Notifications, 2)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 1, s.LocalStats().Total)
}

func TestRealTimeIngestAndScenario(t *testing.T) {
	backend := &fakeBackend{}
	tr := realtime.NewSimulatedTransport(realtime.SimulatedOptions{Interval: time.Hour}, zerolog.Nop())
	s := New(backend, tr, DefaultOptions(), zerolog.Nop())
	defer s.Close()

	var mu sync.Mutex
	var observed []string
	s.Subscribe(func(n models.Notification) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, n.ID)
	})

	require.NoError(t, s.ConnectRealTime(context.Background()))
	require.NoError(t, s.ConnectRealTime(context.Background()))
	assert.True(t, s.State().Connected)

	urgent := models.Notification{ID: "u1", Type: models.NotificationTypeUrgentRequest, Priority: models.PriorityUrgent, Title: "Urgence"}
	system := models.Notification{ID: "s1", Type: models.NotificationTypeSystem, Priority: models.PriorityLow, IsSystem: true, Title: "Maintenance"}
	require.NoError(t, tr.Emit(context.Background(), urgent))
	require.NoError(t, tr.Emit(context.Background(), system))
	require.NoError(t, tr.Emit(context.Background(), urgent))

	require.Eventually(t, func() bool { return len(s.Notifications()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"s1", "u1"}, ids(s.Notifications()))
	assert.Equal(t, 2, s.UnreadCount())

	res := s.MarkAllAsRead(context.Background())
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, 1, backend.markAll)

	s.DisconnectRealTime()
	assert.False(t, s.State().Connected)

	mu.Lock()
	assert.Equal(t, []string{"u1", "s1"}, observed)
	mu.Unlock()
}

func TestClosedStoreIgnoresUpdates(t *testing.T) {
	s := newStore(t, &fakeBackend{}, nil)
	s.Close()

	assert.False(t, s.AddNotification(notif("a", models.PriorityLow)))
	assert.ErrorIs(t, s.FetchNotifications(context.Background(), models.NotificationFilters{}), ErrClosed)
	assert.ErrorIs(t, s.ConnectRealTime(context.Background()), ErrClosed)
	assert.Empty(t, s.Notifications())
}

func TestFetchAfterDeleteDoesNotResurrect(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{
		list:       []models.Notification{notif("a", models.PriorityLow), notif("b", models.PriorityLow)},
		deleteGate: gate,
	}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))

	done := make(chan error, 1)
	go func() { done <- s.DeleteNotification(context.Background(), "a") }()
	require.Eventually(t, func() bool { _, n := backend.calls(); return n == 1 }, time.Second, time.Millisecond)

	// the server has not processed the delete yet and still lists "a"
	require.NoError(t, s.FetchNotifications(context.Background(), models.NotificationFilters{}))
	assert.Equal(t, []string{"b"}, ids(s.Notifications()))

	s.AddNotification(notif("a", models.PriorityLow))
	assert.Equal(t, []string{"b"}, ids(s.Notifications()))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"b"}, ids(s.Notifications()))
}

func TestFetchOutlivingDeleteDoesNotResurrect(t *testing.T) {
	deleteGate, listGate := make(chan struct{}), make(chan struct{})
	backend := &fakeBackend{
		list:       []models.Notification{notif("a", models.PriorityLow), notif("b", models.PriorityLow)},
		deleteGate: deleteGate,
		listGate:   listGate,
	}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("a", models.PriorityLow))

	deleted := make(chan error, 1)
	go func() { deleted <- s.DeleteNotification(context.Background(), "a") }()
	require.Eventually(t, func() bool { _, n := backend.calls(); return n == 1 }, time.Second, time.Millisecond)

	fetched := make(chan error, 1)
	go func() { fetched <- s.FetchNotifications(context.Background(), models.NotificationFilters{}) }()
	require.Eventually(t, func() bool { return s.State().Loading }, time.Second, time.Millisecond)

	// the delete resolves first; the stale list arrives afterwards
	close(deleteGate)
	require.NoError(t, <-deleted)
	close(listGate)
	require.NoError(t, <-fetched)

	assert.Equal(t, []string{"b"}, ids(s.Notifications()))
}

func TestMarkAllAsReadRollsBackOnFailure(t *testing.T) {
	backend := &fakeBackend{markErr: errors.New("bad gateway")}
	s := newStore(t, backend, nil)

	read := notif("read", models.PriorityLow)
	read.IsRead = true
	s.AddNotification(read)
	s.AddNotification(notif("unread", models.PriorityHigh))

	res := s.MarkAllAsRead(context.Background())
	assert.Equal(t, OutcomeRolledBack, res.Outcome)
	require.Error(t, res.Err)

	byID := map[string]bool{}
	for _, n := range s.Notifications() {
		byID[n.ID] = n.IsRead
	}
	assert.False(t, byID["unread"])
	assert.True(t, byID["read"])
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, "bad gateway", s.State().Error)
}

func TestMarkAllAsReadLeavesLateArrivalsUnread(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{markAllGate: gate}
	s := newStore(t, backend, nil)
	s.AddNotification(notif("early", models.PriorityLow))

	done := make(chan MarkResult, 1)
	go func() { done <- s.MarkAllAsRead(context.Background()) }()
	require.Eventually(t, func() bool { n, _ := backend.calls(); return n == 1 }, time.Second, time.Millisecond)

	s.AddNotification(notif("late", models.PriorityLow))
	close(gate)
	assert.Equal(t, OutcomeCommitted, (<-done).Outcome)

	list := s.Notifications()
	require.Equal(t, []string{"late", "early"}, ids(list))
	assert.False(t, list[0].IsRead)
	assert.True(t, list[1].IsRead)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestPreferencesShapeAlerts(t *testing.T) {
	prefs := models.DefaultPreferences("u1")
	prefs.EnableSound, prefs.EnablePush = true, true
	prefs.Types[models.NotificationTypeReminder] = models.TypePreference{Enabled: true, Priority: models.PriorityUrgent}
	prefs.Types[models.NotificationTypeBedAvailable] = models.TypePreference{Enabled: false, Priority: models.PriorityMedium}

	sound := &fakeSound{}
	desktop := &fakeDesktop{perm: PermissionGranted}
	s := newStore(t, &fakeBackend{}, func(o *Options) {
		o.Sound, o.Desktop = sound, desktop
		o.Preferences = func() (models.NotificationPreferences, bool) { return prefs, true }
	})

	// reminders are configured urgent: urgent cue, desktop alert stays up
	require.True(t, s.AddNotification(notif("rem", models.PriorityLow)))
	assert.Equal(t, []string{models.PriorityUrgent.SoundAsset()}, sound.assets)
	require.Len(t, desktop.shown, 1)
	assert.Zero(t, desktop.shown[0].Timeout)

	// a disabled type is listed but raises no alert
	bed := notif("bed", models.PriorityHigh)
	bed.Type = models.NotificationTypeBedAvailable
	require.True(t, s.AddNotification(bed))
	assert.Len(t, sound.assets, 1)
	assert.Len(t, desktop.shown, 1)
	assert.Equal(t, []string{"bed", "rem"}, ids(s.Notifications()))

	prefs.EnablePush, prefs.EnableSound = false, false
	require.True(t, s.AddNotification(notif("quiet", models.PriorityHigh)))
	assert.Len(t, sound.assets, 1)
	assert.Len(t, desktop.shown, 1)
}
