package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/rail"
	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/srt"
)

const railTimeout = 15 * time.Second

// backendFactory opens sessions against the ticketing backend BACKEND names.
type backendFactory interface {
	Open(ctx context.Context, creds rail.Credentials) (reservation.BookingClient, error)
	Stations() []string
}

var (
	_ backendFactory = rail.Factory{}
	_ backendFactory = srt.Factory{}
)

func newBackend(cfg config.Config, log *slog.Logger) backendFactory {
	if cfg.Backend == "srt" {
		return srt.Factory{BaseURL: cfg.SRTBaseURL, Rate: cfg.RailRatePerSec, Timeout: railTimeout, Logger: log}
	}
	return rail.Factory{BaseURL: cfg.RailBaseURL, Rate: cfg.RailRatePerSec, Timeout: railTimeout, Logger: log}
}

func backendURL(cfg config.Config) string {
	if cfg.Backend == "srt" {
		return cfg.SRTBaseURL
	}
	return cfg.RailBaseURL
}
