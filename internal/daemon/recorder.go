package daemon

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/harun/jobats/pkg/journal"
	"github.com/rs/zerolog"
)

const (
	recorderBacklog = 256
	recordTimeout   = 5 * time.Second
)

// journalRecorder writes settled requests to the journal off the
// dispatcher's goroutines. Entries are dropped when the backlog is full.
type journalRecorder struct {
	store   *journal.Store
	logger  zerolog.Logger
	entries chan journal.Entry
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newJournalRecorder(store *journal.Store, logger zerolog.Logger) *journalRecorder {
	r := &journalRecorder{
		store:   store,
		logger:  logger,
		entries: make(chan journal.Entry, recorderBacklog),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *journalRecorder) handle(ev dispatcher.Event[int]) {
	entry := entryFromEvent(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- entry:
	default:
		r.logger.Warn().
			Str("request_id", ev.RequestID).
			Msg("Journal backlog full, dropping entry")
	}
}

func (r *journalRecorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.store.Record(ctx, entry); err != nil {
			r.logger.Warn().Err(err).Str("request_id", entry.RequestID).Msg("Failed to record request")
		}
		cancel()
	}
}

// close flushes the backlog and stops the writer.
func (r *journalRecorder) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()
	<-r.done
}

func entryFromEvent(ev dispatcher.Event[int]) journal.Entry {
	entry := journal.Entry{
		RequestID: ev.RequestID,
		TabID:     strconv.Itoa(ev.Key),
		Method:    "ai.suggest",
		Outcome:   string(ev.Outcome),
		Attempts:  ev.Attempt,
		Duration:  ev.Duration,
		SettledAt: time.Now(),
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	return entry
}
