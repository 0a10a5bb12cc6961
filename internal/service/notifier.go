package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// notificationTTL is how long a toast stays listed.
const notificationTTL = 5 * time.Second

// Notifier keeps the user-facing toasts raised by background loads.
type Notifier struct {
	mu    sync.Mutex
	items []domain.Notification
	now   func() time.Time
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{now: time.Now}
}

// Add records a notification and returns it.
func (n *Notifier) Add(t domain.NotificationType, message string) domain.Notification {
	item := domain.Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   message,
		Timestamp: n.now(),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return item
}

// List returns the notifications younger than five seconds, oldest first.
func (n *Notifier) List() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := n.now().Add(-notificationTTL)
	kept := n.items[:0]
	for _, item := range n.items {
		if item.Timestamp.After(cutoff) {
			kept = append(kept, item)
		}
	}
	n.items = kept

	out := make([]domain.Notification, len(kept))
	copy(out, kept)
	return out
}

// Remove drops one notification by id.
func (n *Notifier) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}
