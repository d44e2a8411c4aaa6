package main

import (
	"context"
	"net/http"
	"time"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/models"
	"autoforwardx/internal/privacy"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// handleEvents upgrades to a WebSocket and streams the caller's events as JSON
// text frames until either side goes away. The stream is write-only; client
// frames are discarded.
func (s *Server) handleEvents() http.HandlerFunc {
	return s.authedStream(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		sub, err := s.engine.Subscribe(caller)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer sub.Close()

		// Long-lived: lift the server's per-request deadlines.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.AllowedOrigins,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Event stream upgrade failed")
			return
		}
		defer conn.CloseNow()

		fields := logrus.Fields{constants.LogFieldUserID: privacy.MaskUserID(caller.UserID)}
		s.logger.WithFields(fields).Info("Event stream opened")

		ctx := conn.CloseRead(r.Context())
		ping := time.NewTicker(constants.EventStreamPingSec * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.WithFields(fields).WithField("dropped", sub.Dropped()).Info("Event stream closed")
				return

			case event, ok := <-sub.Events():
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeEvent(ctx, conn, event); err != nil {
					s.logger.WithFields(fields).WithError(err).Debug("Event stream write failed")
					return
				}

			case <-ping.C:
				pingCtx, cancel := context.WithTimeout(ctx, constants.EventStreamWriteTimeoutSec*time.Second)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					s.logger.WithFields(fields).WithError(err).Debug("Event stream ping failed")
					return
				}
			}
		}
	})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, constants.EventStreamWriteTimeoutSec*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// authedStream also accepts the caller as a user_id query parameter, since
// browsers cannot set headers on a WebSocket handshake.
func (s *Server) authedStream(fn func(w http.ResponseWriter, r *http.Request, caller models.Caller)) http.HandlerFunc {
	next := s.authed(fn)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserIDHeader) == "" {
			if q := r.URL.Query().Get("user_id"); q != "" {
				r.Header.Set(UserIDHeader, q)
			}
		}
		next(w, r)
	}
}
