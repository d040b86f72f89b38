package rail

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/rail-scheduler/internal/reservation"
)

// Factory hands out logged-in clients. Every call returns a new client with
// its own cookie session, so two runs never share backend state.
type Factory struct {
	BaseURL string
	Rate    float64
	Timeout time.Duration
	Logger  *slog.Logger
}

func (f Factory) New(ctx context.Context, creds Credentials) (*Client, error) {
	opts := []Option{WithRate(f.Rate, 1)}
	if f.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: f.Timeout}))
	}
	if f.Logger != nil {
		opts = append(opts, WithLogger(f.Logger))
	}
	c, err := New(f.BaseURL, creds, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Open is New behind the BookingClient interface.
func (f Factory) Open(ctx context.Context, creds Credentials) (reservation.BookingClient, error) {
	c, err := f.New(ctx, creds)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (Factory) Stations() []string { return Stations() }
