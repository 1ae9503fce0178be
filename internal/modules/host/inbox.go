package host

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pushsync/internal/modules/notification"
)

const defaultInboxSize = 100

type Displayed struct {
	notification.LocalNotification
	At time.Time `json:"at"`
}

// Inbox stands in for the system notification center: it keeps the most
// recent local notifications so they can be listed over the control API.
type Inbox struct {
	size      int
	permitted atomic.Bool
	log       *slog.Logger

	mu    sync.Mutex
	items []Displayed
}

func NewInbox(size int, permitted bool, log *slog.Logger) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	in := &Inbox{
		size: size,
		log:  log.With(slog.String("component", "host_inbox")),
	}
	in.permitted.Store(permitted)
	return in
}

func (in *Inbox) PresentLocalNotification(_ context.Context, n notification.LocalNotification) error {
	in.mu.Lock()
	in.items = append(in.items, Displayed{LocalNotification: n, At: time.Now()})
	if over := len(in.items) - in.size; over > 0 {
		in.items = append(in.items[:0:0], in.items[over:]...)
	}
	in.mu.Unlock()

	in.log.Info("local notification",
		slog.String("id", n.ID),
		slog.String("title", n.Title),
		slog.String("body", n.Body),
	)
	return nil
}

func (in *Inbox) DisplayPermitted(context.Context) bool {
	return in.permitted.Load()
}

func (in *Inbox) SetPermitted(permitted bool) {
	in.permitted.Store(permitted)
}

// List returns displayed notifications, newest last.
func (in *Inbox) List() []Displayed {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Displayed(nil), in.items...)
}
