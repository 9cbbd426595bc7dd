package daemon

import (
	"context"
	"strconv"
	"time"

	"github.com/harun/jobats/internal/observability"
)

const defaultStatsInterval = 30 * time.Second

// EventLoop samples queue depth on an interval.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: defaultStatsInterval,
	}
}

// Run samples until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.log.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.log.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

func (e *EventLoop) processTasks() {
	status := e.daemon.dispatcher.Status()
	observability.SetDispatcherDepth(status.Active, status.Queued)

	if status.Active == 0 && status.Queued == 0 {
		return
	}

	// Busiest lanes only; the full map is on queue.status.
	event := e.daemon.log.Debug().
		Int("active", status.Active).
		Int("queued", status.Queued).
		Int("clients", len(e.daemon.gatewayServer.GetConnectedClients()))
	for tabID, queued := range status.ByTab {
		if queued > 1 {
			event = event.Int("tab_"+strconv.Itoa(tabID), queued)
		}
	}
	event.Msg("Queue stats")
}
