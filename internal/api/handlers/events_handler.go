package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/events"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/pipeline"
)

// EventsHandler accepts S3 event documents over HTTP. It stands in for the
// queue when running without SQS.
type EventsHandler struct {
	dispatch events.Dispatcher
	log      *logger.Logger
}

func NewEventsHandler(d events.Dispatcher, log *logger.Logger) *EventsHandler {
	return &EventsHandler{dispatch: d, log: log}
}

// S3 handles POST /api/events/s3.
func (h *EventsHandler) S3(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, h.log, apperr.Invalid("s3 event", "could not read body"))
		return
	}
	uploads, err := events.ParseS3Event(body)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	results := make([]*pipeline.DispatchResult, 0, len(uploads))
	for _, ev := range uploads {
		// dispatch outlives the request; the job is already claimed once it starts
		res, err := h.dispatch.Dispatch(context.WithoutCancel(r.Context()), ev)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"results": results})
}
