package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"garrison.org/internal/ids"
	"garrison.org/internal/obs"
)

// Sink receives persisted events for live delivery. Publish must not block.
type Sink interface {
	Publish(ev Event)
}

// Writer stamps, redacts, and persists audit events. Handlers receive a
// Writer explicitly; nothing logs through ambient request state.
type Writer struct {
	store Store
	sink  Sink
	now   func() time.Time
	newID func() string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSink forwards persisted events to a live feed.
func WithSink(sink Sink) WriterOption {
	return func(w *Writer) { w.sink = sink }
}

func withWriterClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter builds a Writer over the given store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{store: store, now: time.Now, newID: ids.New}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Log stamps and persists the event. The server assigns the id and
// timestamp and derives the request context; caller-supplied values for
// those fields are discarded. Diffs and metadata are redacted before they
// touch storage.
//
// For required events a write failure is returned to the caller, which must
// fail the operation. Best-effort events never fail the request: the error
// is logged and counted instead. Required writes survive client disconnects
// by detaching from the request's cancellation.
func (w *Writer) Log(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.New("audit: nil event")
	}
	if strings.TrimSpace(string(ev.Type)) == "" {
		return errors.New("audit: event type is required")
	}
	if strings.TrimSpace(ev.ActorID) == "" {
		return errors.New("audit: actor id is required")
	}

	ev.ID = w.newID()
	ev.OccurredAt = w.now().UTC()
	if ev.Outcome == "" {
		ev.Outcome = OutcomeSuccess
	}
	if rc, ok := RequestContextFromContext(ctx); ok {
		ev.RequestContext = rc
	} else {
		ev.RequestContext = RequestContext{}
	}
	ev.Diff = ev.Diff.redacted()
	ev.Metadata = RedactSensitiveData(ev.Metadata)

	writeCtx := ctx
	if ev.Required {
		writeCtx = context.WithoutCancel(ctx)
	}

	if err := w.store.AppendEvent(writeCtx, ev); err != nil {
		obs.ObserveAuditFailure(ev.Required)
		if ev.Required {
			return fmt.Errorf("audit: append %s: %w", ev.Type, err)
		}
		obs.Warn("audit write failed", map[string]any{
			"event_type": string(ev.Type),
			"actor_id":   ev.ActorID,
			"error":      err.Error(),
		})
		return nil
	}

	if w.sink != nil {
		w.sink.Publish(*ev)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (w *Writer) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return w.store.QueryEvents(ctx, filter)
}
