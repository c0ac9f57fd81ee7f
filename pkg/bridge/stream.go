package bridge

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

const (
	defaultStreamFreq = 10
	writeWait         = time.Second
)

// Frame is one WebSocket message of the dataref stream.
type Frame struct {
	Time   time.Time          `json:"time"`
	Values map[string]float32 `json:"values"`
}

// handleStream subscribes to every dref query parameter at freq Hz on a
// dedicated session and pushes the value cache after each packet.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.dial == nil {
		writeError(w, http.StatusNotImplemented, "streaming is not enabled")
		return
	}
	names := r.URL.Query()["dref"]
	if len(names) == 0 {
		writeError(w, http.StatusBadRequest, "at least one dref query parameter is required")
		return
	}
	freq := defaultStreamFreq
	if v := r.URL.Query().Get("freq"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil || f < 1 {
			writeError(w, http.StatusBadRequest, "freq must be a positive integer")
			return
		}
		freq = f
	}

	st, err := s.dial()
	if err != nil {
		s.fail(w, err)
		return
	}
	defer st.Close()
	for _, name := range names {
		if _, err := st.Subscribe(r.Context(), name, freq); err != nil {
			s.fail(w, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.WithField("drefs", names)
	log.Debug("stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The peer never sends data; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ctx.Err() == nil {
		values, err := st.Poll(ctx)
		var pe *protocol.ProtocolError
		switch {
		case errors.Is(err, transport.ErrTimeout), errors.As(err, &pe):
			continue
		case err != nil:
			if ctx.Err() == nil {
				log.WithError(err).Warn("stream poll failed")
			}
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(Frame{Time: time.Now().UTC(), Values: values}); err != nil {
			log.WithError(err).Debug("stream write failed")
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	log.Debug("stream closed")
}
