package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// StatusFunc reports what the process is doing, e.g. the orchestrator state.
type StatusFunc func() map[string]string

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
	log    log.Logger
	status StatusFunc
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	h.server = server
	h.ctx = ctx
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.log != nil {
		h.log.Debug("Received health check request", "path", r.URL.Path)
	}
	if h.status == nil {
		w.Write([]byte("OK")) //nolint:errcheck
		return
	}
	w.Header().Set("Content-Type", "application/json")
	body := map[string]string{"status": "OK"}
	for k, v := range h.status() {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}
