package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gemdesk/internal/config"
)

// Registrar is anything that mounts handlers on the webhook mux.
type Registrar interface {
	Name() string
	Register(mux *http.ServeMux)
}

// WebhookServer is the single HTTP listener all inbound webhooks mount
// on. Meta delivers both channels to the same host; only the paths
// differ.
type WebhookServer struct {
	cfg    config.WebhookConfig
	mux    *http.ServeMux
	logger *slog.Logger
	server *http.Server
}

func NewWebhookServer(cfg config.WebhookConfig, logger *slog.Logger) *WebhookServer {
	return &WebhookServer{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

// Mount registers a webhook surface.
func (s *WebhookServer) Mount(r Registrar) {
	r.Register(s.mux)
}

// Handle mounts an extra handler, e.g. the metrics endpoint.
func (s *WebhookServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *WebhookServer) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
