// Package notify persists notifications through a bounded dispatch queue.
//
// Delivery is at-most-once: callers enqueue and move on, a single worker
// drains the queue into the store, and when the queue is full the
// notification is dropped and logged rather than blocking the caller.
// Escalation and sync paths must never stall on notification I/O.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/types"
)

// DefaultQueueSize bounds the dispatch queue.
const DefaultQueueSize = 256

// Dispatcher is the notification sink used by the escalation engine and
// the sync-adjacent risk alert path.
type Dispatcher struct {
	store  storage.Storage
	queue  chan *types.Notification
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with the given queue size (<= 0
// selects DefaultQueueSize). Call Start before enqueuing.
func NewDispatcher(store storage.Storage, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		queue:  make(chan *types.Notification, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the drain worker. It returns immediately; the worker
// runs until Close is called and the queue is empty.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.drain(ctx)
	})
}

func (d *Dispatcher) drain(ctx context.Context) {
	defer close(d.done)
	for n := range d.queue {
		if err := d.store.InsertNotification(ctx, n); err != nil {
			d.logger.Warn("failed to persist notification",
				"user_id", n.UserID, "title", n.Title, "error", err)
		}
	}
}

// Notify enqueues a notification. When the queue is full the
// notification is dropped and logged; callers never block.
func (d *Dispatcher) Notify(ctx context.Context, n *types.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping",
			"user_id", n.UserID, "title", n.Title)
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}

// AlertProjectRisk notifies a project's owner when its risk score
// crosses the high-risk line. Severity escalates to error at 85.
func (d *Dispatcher) AlertProjectRisk(ctx context.Context, project *types.Project, score float64) {
	if project.CreatedBy == "" || score < 70 {
		return
	}
	severity := types.SeverityWarning
	if score >= 85 {
		severity = types.SeverityError
	}
	d.Notify(ctx, &types.Notification{
		UserID: project.CreatedBy,
		Title:  fmt.Sprintf("Project risk alert: %s", project.Name),
		Message: fmt.Sprintf("Project %q has a risk score of %.0f%%. Review deadlines and task load.",
			project.Name, score),
		Severity: severity,
		Link:     "/projects/" + project.ID,
	})
}
