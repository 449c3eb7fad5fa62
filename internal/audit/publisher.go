package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher decouples lifecycle logic from trail persistence through a
// buffered inbox. Emit never blocks request handling; if the inbox is full the
// event is dropped and logged rather than stalling a delete.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

// Emit queues an event for the worker.
func (p *Publisher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", string(event.Action),
			"tip_id", event.TipID.String(),
		)
	}
}

// Worker consumes the publisher's inbox and persists events. Runs until the
// context is cancelled; buffered events are flushed on shutdown.
type Worker struct {
	store     Store
	publisher *Publisher
	logger    *slog.Logger
}

func NewWorker(store Store, publisher *Publisher, logger *slog.Logger) *Worker {
	return &Worker{store: store, publisher: publisher, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.publisher.inbox:
			w.append(event)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.publisher.inbox:
			w.append(event)
		default:
			return
		}
	}
}

func (w *Worker) append(event Event) {
	// A fresh context: the request that emitted the event may be long gone.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.Error("failed to append audit event",
			"action", string(event.Action),
			"tip_id", event.TipID.String(),
			"error", err,
		)
	}
}
