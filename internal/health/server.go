// Package health serves the keep-alive HTTP endpoints used by the hosting
// platform, and hosts the platform webhook route when webhook mode is on.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"invitebot/pkg/logx"
)

type Server struct {
	srv *http.Server
	log logx.Logger
}

// New builds the liveness server. webhookPath/webhookHandler are optional;
// when set, platform updates posted to that path are handed to the handler.
func New(port int, webhookPath string, webhookHandler http.Handler, log logx.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Bot is running!"))
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	if webhookHandler != nil && webhookPath != "" {
		r.Handle(webhookPath, webhookHandler)
	}

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.Info("http server started", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
