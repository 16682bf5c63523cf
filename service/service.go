package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum-optimism/infra/op-squish/metrics"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultHealthzAddr = "0.0.0.0:8080"
	DefaultMetricsAddr = "0.0.0.0:7300"
)

type Config struct {
	Log         log.Logger
	// HealthzAddr and MetricsAddr are host:port pairs. An empty address
	// disables that endpoint.
	HealthzAddr string
	MetricsAddr string
	Status      StatusFunc
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	log         log.Logger
	healthzAddr string
	metricsAddr string
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Service{
		Healthz:     &HealthzServer{log: cfg.Log, status: cfg.Status},
		Metrics:     &MetricsServer{},
		log:         cfg.Log,
		healthzAddr: cfg.HealthzAddr,
		metricsAddr: cfg.MetricsAddr,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if s.healthzAddr != "" {
		go func() {
			s.log.Info("starting healthz server", "addr", s.healthzAddr)
			if err := s.Healthz.Start(ctx, s.healthzAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.metricsAddr != "" {
		go func() {
			s.log.Info("starting metrics server", "addr", s.metricsAddr)
			if err := s.Metrics.Start(ctx, s.metricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}

