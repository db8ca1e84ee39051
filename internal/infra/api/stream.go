package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/logging"
	"github.com/Lemmeyg/howtube2-sub000/internal/usecase"
)

const wsWriteWait = 10 * time.Second

// pump sends the snapshot and then every newer event until the job is terminal,
// the subscription closes or ctx ends. ping runs on every heartbeat tick.
func pump(ctx context.Context, st *usecase.JobStream, heartbeat time.Duration, send func(model.JobEvent) error, ping func() error) error {
	last := st.Snapshot
	if err := send(last); err != nil {
		return err
	}
	if last.Status.IsTerminal() {
		return nil
	}

	hb := time.NewTicker(heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-st.Events:
			if !ok {
				return nil
			}
			if superseded(last, ev) {
				continue
			}
			if err := send(ev); err != nil {
				return err
			}
			last = ev
			if ev.Status.IsTerminal() {
				return nil
			}
		case <-hb.C:
			if err := ping(); err != nil {
				return err
			}
		}
	}
}

// superseded reports whether ev is already reflected by last. The subscription
// opens before the snapshot is read, so the first events may repeat it.
func superseded(last, ev model.JobEvent) bool {
	if ev.At.Before(last.At) {
		return true
	}
	return ev.Status == last.Status && ev.Step == last.Step && ev.Progress == last.Progress
}

func (s *Server) openStream(w http.ResponseWriter, r *http.Request) (*usecase.JobStream, bool) {
	userID, _ := logging.UserID(r.Context())
	st, err := s.jobs.Stream(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return st, true
}

// ===== Server-Sent Events =====

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, domain.E(domain.KindInternal, "api.handleJobEvents", "streaming unsupported", nil))
		return
	}
	st, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer st.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev model.JobEvent) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	ping := func() error {
		if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := pump(r.Context(), st, s.opts.Heartbeat, send, ping); err != nil && r.Context().Err() == nil {
		logging.With(r.Context(), s.log).Debug().Err(err).Msg("event stream ended")
	}
}

func writeSSE(w io.Writer, ev model.JobEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ulid.Make().String(), ev.Type, b)
	return err
}

// ===== WebSocket =====

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	st, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer st.Close()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only serve to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev model.JobEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	}
	err = pump(ctx, st, s.opts.Heartbeat, send, ping)
	if err == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
			time.Now().Add(wsWriteWait))
	} else if ctx.Err() == nil {
		logging.With(r.Context(), s.log).Debug().Err(err).Msg("websocket stream ended")
	}
}
