// Package realtime delivers pushed notifications to the client store.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/stanstork/his-notify/internal/models"
)

// ErrNotConnected is returned when emitting on a disconnected transport.
var ErrNotConnected = errors.New("transport not connected")

// Listener receives notifications in delivery order.
type Listener func(models.Notification)

// Transport delivers notifications at least once, FIFO per connection.
type Transport interface {
	// Connect starts delivery. Calling it while connected is a no-op.
	Connect(ctx context.Context) error
	// Disconnect stops delivery and drops every listener.
	Disconnect()
	OnNotification(l Listener)
	Connected() bool
}

// listeners is the registration list shared by the transports.
type listeners struct {
	mu   sync.Mutex
	list []Listener
}

func (l *listeners) add(fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, fn)
}

func (l *listeners) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = nil
}

// deliver calls every listener synchronously in registration order.
func (l *listeners) deliver(n models.Notification) {
	l.mu.Lock()
	snapshot := make([]Listener, len(l.list))
	copy(snapshot, l.list)
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(n)
	}
}
