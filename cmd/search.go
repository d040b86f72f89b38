package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/logger"
	"github.com/example/rail-scheduler/internal/rail"
	"github.com/example/rail-scheduler/internal/reservation"
)

// query is the route and time window shared by search and run.
type query struct {
	dep, arr string
	date     string // YYYY-MM-DD
	hour     int
}

func (q *query) flags(cmd *cobra.Command) {
	now := time.Now()
	cmd.Flags().StringVar(&q.dep, "dep", "서울", "departure station")
	cmd.Flags().StringVar(&q.arr, "arr", "부산", "arrival station")
	cmd.Flags().StringVar(&q.date, "date", now.Format("2006-01-02"), "travel date YYYY-MM-DD")
	cmd.Flags().IntVar(&q.hour, "hour", now.Hour(), "earliest departure hour (0-23)")
}

// backend returns the YYYYMMDD and HHMMSS forms the ticketing backend expects.
func (q query) backend(stations []string) (string, string, error) {
	if !slices.Contains(stations, q.dep) || !slices.Contains(stations, q.arr) {
		return "", "", errors.New("unknown station, see `railsched stations`")
	}
	if q.dep == q.arr {
		return "", "", errors.New("--dep and --arr must differ")
	}
	if q.hour < 0 || q.hour > 23 {
		return "", "", errors.New("--hour must be 0-23")
	}
	d, err := time.Parse("2006-01-02", q.date)
	if err != nil {
		return "", "", fmt.Errorf("invalid --date (want YYYY-MM-DD)")
	}
	return d.Format("20060102"), fmt.Sprintf("%02d0000", q.hour), nil
}

// member is implemented by clients that know the logged-in account.
type member interface {
	Member() rail.Member
}

// login opens a backend session with RAIL_MEMBER_ID and RAIL_PASSWORD.
func login(ctx context.Context, cfg config.Config, f backendFactory, log *slog.Logger) (reservation.BookingClient, error) {
	if cfg.RailMemberID == "" || cfg.RailPassword == "" {
		return nil, errors.New("RAIL_MEMBER_ID and RAIL_PASSWORD are required")
	}
	c, err := f.Open(ctx, rail.Credentials{MemberID: cfg.RailMemberID, Password: cfg.RailPassword})
	if err != nil {
		return nil, err
	}
	if m, ok := c.(member); ok {
		log.Info("logged in", slog.String("backend", cfg.Backend), slog.String("member", m.Member().Number))
	}
	return c, nil
}

func printOffers(w io.Writer, offers []reservation.Offer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTRAIN\tDEP\tARR\tGENERAL\tSPECIAL")
	for i, o := range offers {
		fmt.Fprintf(tw, "%d\t%s %s\t%s\t%s\t%s\t%s\n", i, o.TrainName, o.TrainID,
			clock(o.DepartureTime), clock(o.ArrivalTime), o.General, o.Special)
	}
	return tw.Flush()
}

func clock(hhmmss string) string {
	if len(hhmmss) < 4 {
		return hhmmss
	}
	return hhmmss[:2] + ":" + hhmmss[2:4]
}

func newSearchCmd() *cobra.Command {
	var q query
	c := &cobra.Command{
		Use:   "search",
		Short: "Show departures and their seat state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			backend := newBackend(cfg, log)
			date, at, err := q.backend(backend.Stations())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := login(ctx, cfg, backend, log)
			if err != nil {
				return err
			}
			offers, err := client.Search(ctx, q.dep, q.arr, date, at)
			if err != nil {
				return err
			}
			if len(offers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no departures")
				return nil
			}
			return printOffers(cmd.OutOrStdout(), offers)
		},
	}
	q.flags(c)
	return c
}
