package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"garrison.org/internal/audit"
)

// AuditEvents answers "who did what to this record" over the stored trail.
func (a *API) AuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "limit "+err.Error())
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "offset "+err.Error())
		return
	}

	filter := audit.QueryFilter{
		ActorID:    strings.TrimSpace(q.Get("actor_id")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
		RequestID:  strings.TrimSpace(q.Get("request_id")),
		Limit:      limit,
		Offset:     offset,
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				filter.Types = append(filter.Types, audit.EventType(strings.ToUpper(part)))
			}
		}
	}
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := strings.TrimSpace(q.Get(name)); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, codeBadRequest, name+" must be RFC3339")
				return
			}
			*dst = ts
		}
	}

	events, err := a.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeServerError, "audit query failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeOK(w, http.StatusOK, map[string]any{"events": events})
}

// AuditStream handles Server-Sent Events for the live audit trail.
func (a *API) AuditStream(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, codeServerError, "streaming disabled")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, codeServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.feed.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
