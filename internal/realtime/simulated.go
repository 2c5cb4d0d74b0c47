package realtime

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/models"
)

type SimulatedOptions struct {
	// Interval between draws; defaults to 30s.
	Interval time.Duration
	// Probability that a draw produces a notification. Zero disables
	// synthesis, leaving only Emit; a negative value selects 0.3.
	Probability float64
	// Rand drives every random choice. Defaults to a time-seeded source.
	Rand *rand.Rand
	// Now stamps synthesized notifications. Defaults to time.Now.
	Now func() time.Time
}

// SimulatedTransport synthesizes random notifications on a timer. Synthesized
// and emitted notifications share one delivery goroutine, so listeners see
// them in production order.
type SimulatedTransport struct {
	listeners

	opts   SimulatedOptions
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
	emits     chan models.Notification
}

func NewSimulatedTransport(opts SimulatedOptions, logger zerolog.Logger) *SimulatedTransport {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Probability < 0 {
		opts.Probability = 0.3
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SimulatedTransport{
		opts:   opts,
		logger: logger.With().Str("component", "simulated_transport").Logger(),
	}
}

// Connect starts the timer. The transport runs until Disconnect, whatever
// happens to ctx afterwards.
func (t *SimulatedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.emits = make(chan models.Notification, 16)
	t.connected = true

	go t.run(loopCtx, t.emits, t.done)
	t.logger.Info().Dur("interval", t.opts.Interval).Float64("probability", t.opts.Probability).Msg("simulated transport connected")
	return nil
}

// Disconnect waits for the delivery goroutine to stop, so it must not be
// called from a listener.
func (t *SimulatedTransport) Disconnect() {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		t.clear()
		return
	}
	t.connected = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	t.clear()
	t.logger.Info().Msg("simulated transport disconnected")
}

func (t *SimulatedTransport) OnNotification(l Listener) {
	t.add(l)
}

func (t *SimulatedTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Emit delivers n through the same path as synthesized notifications.
func (t *SimulatedTransport) Emit(ctx context.Context, n models.Notification) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	emits, done := t.emits, t.done
	t.mu.Unlock()

	select {
	case emits <- n:
		return nil
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SimulatedTransport) run(ctx context.Context, emits <-chan models.Notification, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-emits:
			t.deliver(n)
		case <-ticker.C:
			if t.opts.Rand.Float64() >= t.opts.Probability {
				continue
			}
			n := t.synthesize()
			t.logger.Debug().Str("notification_id", n.ID).Str("type", string(n.Type)).Msg("synthesized notification")
			t.deliver(n)
		}
	}
}

var simulatedMessages = map[models.NotificationType][2]string{
	models.NotificationTypeAdmissionRequest:   {"Nouvelle demande d'admission", "Une demande d'admission attend votre validation."},
	models.NotificationTypeAdmissionValidated: {"Admission validée", "La demande d'admission a été validée."},
	models.NotificationTypeAdmissionRejected:  {"Admission refusée", "La demande d'admission a été refusée."},
	models.NotificationTypePatientAdmitted:    {"Patient admis", "Un patient vient d'être admis dans le service."},
	models.NotificationTypePatientDischarged:  {"Sortie patient", "Un patient a quitté le service."},
	models.NotificationTypeBedAvailable:       {"Lit disponible", "Un lit vient de se libérer."},
	models.NotificationTypeUrgentRequest:      {"Demande urgente", "Une intervention urgente est requise."},
	models.NotificationTypeSystem:             {"Message système", "Une maintenance est planifiée."},
	models.NotificationTypeReminder:           {"Rappel", "Vous avez une tâche en attente."},
}

// synthesize draws a type, priority and role subset from the random source.
func (t *SimulatedTransport) synthesize() models.Notification {
	r := t.opts.Rand
	types := models.AllNotificationTypes()
	priorities := models.AllPriorities()
	typ := types[r.Intn(len(types))]

	var roles []models.UserRole
	for _, role := range models.AllRoles() {
		if r.Intn(3) == 0 {
			roles = append(roles, role)
		}
	}

	text := simulatedMessages[typ]
	return models.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Priority:  priorities[r.Intn(len(priorities))],
		Title:     text[0],
		Message:   text[1],
		UserID:    models.BroadcastUserID,
		UserRoles: roles,
		IsSystem:  typ == models.NotificationTypeSystem,
		CreatedAt: t.opts.Now(),
	}
}
