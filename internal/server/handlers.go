package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/hashi/internal/ctxutil"
	"github.com/ashita-ai/hashi/internal/model"
	"github.com/ashita-ai/hashi/internal/procreg"
	"github.com/ashita-ai/hashi/internal/stream"
)

// typingInterval throttles SSE typing events.
const typingInterval = 2 * time.Second

type handlers struct {
	agent        Agent
	status       Status
	procs        *procreg.Registry
	logger       *slog.Logger
	maxBodyBytes int64
	chunker      stream.ChunkerConfig
	version      string
}

type messageRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type messageResponse struct {
	Response string `json:"response"`
}

// handleMessage handles POST /v1/messages.
func (h *handlers) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req messageRequest
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.From) == "" {
		writeError(w, r, http.StatusBadRequest, "from is required")
		return
	}

	msg := model.NewMessage(req.From, req.Text)
	ctx := ctxutil.WithPrincipal(r.Context(), req.From)

	if acceptsEventStream(r) && h.agent.ShouldStream(req.From, req.Text) {
		h.streamMessage(w, r.WithContext(ctx), msg)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Response: h.agent.ProcessMessage(ctx, msg, nil)})
}

func acceptsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(v, "text/event-stream") {
			return true
		}
	}
	return false
}

// streamMessage answers with server-sent events: "typing" pulses while the
// command runs, "chunk" events carrying progress, and a terminal "done"
// event with the full response.
func (h *handlers) streamMessage(w http.ResponseWriter, r *http.Request, msg model.Message) {
	rc := http.NewResponseController(w)
	// Code commands outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("server: clear write deadline failed", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("server: flush failed", "error", err)
	}

	var mu sync.Mutex
	send := func(event string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		return rc.Flush()
	}

	typing := stream.NewThrottledSignaler(typingInterval, func(context.Context) error {
		return send("typing", struct{}{})
	}, nil, h.logger)
	pipe := stream.NewPipeline(h.chunker, typing, func(_ context.Context, c model.StreamChunk) error {
		return send("chunk", c)
	}, h.logger)

	ctx := r.Context()
	typing.SignalTyping(ctx)
	resp := h.agent.ProcessMessage(ctx, msg, pipe.Progress(ctx))
	pipe.Flush(ctx, true)

	if err := send("done", messageResponse{Response: resp}); err != nil {
		h.logger.Debug("server: client gone before done event", "from", msg.From, "error", err)
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version,omitempty"`
	Adapter          string `json:"adapter,omitempty"`
	AdapterStatus    string `json:"adapter_status,omitempty"`
	Provider         string `json:"provider,omitempty"`
	RunningProcesses int    `json:"running_processes"`
}

// handleHealth handles GET /health. It reports only local state and never
// fails, so it works as a liveness probe.
func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.version}
	if h.status != nil {
		if a := h.status.Adapter(); a != nil {
			resp.Adapter = a.ID()
			resp.AdapterStatus = a.Status()
		}
		if p, err := h.status.Provider(); err == nil {
			resp.Provider = p.Name
		}
	}
	if h.procs != nil {
		resp.RunningProcesses = len(h.procs.Running())
	}
	writeJSON(w, http.StatusOK, resp)
}
