package errhandler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultFeedCapacity = 50

// Feed keeps the most recent notifications in memory so an HTTP client can
// poll them. Older notifications are dropped once capacity is reached.
type Feed struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	now      func() time.Time
}

// NewFeed creates a feed holding at most capacity notifications.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{capacity: capacity, now: time.Now}
}

// Notify implements Notifier.
func (f *Feed) Notify(_ context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if len(f.items) > f.capacity {
		f.items = f.items[len(f.items)-f.capacity:]
	}
}

// Active returns unexpired notifications, newest first.
func (f *Feed) Active() []Notification {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, len(f.items))
	for i := len(f.items) - 1; i >= 0; i-- {
		n := f.items[i]
		if !n.ExpiresAt.IsZero() && !now.Before(n.ExpiresAt) {
			continue
		}
		out = append(out, n)
	}
	return out
}
