package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/logger"
	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var (
		q          query
		selections []string
		pref       string
		delay      time.Duration
		maxRounds  int
		maxTime    time.Duration
	)

	c := &cobra.Command{
		Use:   "run",
		Short: "Poll the selected departures until one is booked (Ctrl-C stops)",
		Long: "Searches once, then keeps retrying the departures picked with --select\n" +
			"(row numbers from `railsched search`) round-robin until a seat is booked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := reservation.ParseSeatPreference(pref)
			if err != nil {
				return err
			}
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			policy := cfg.Policy()
			if cmd.Flags().Changed("delay") {
				policy.Delay = delay
			}
			if cmd.Flags().Changed("max-rounds") {
				policy.MaxRounds = maxRounds
			}
			if cmd.Flags().Changed("max-duration") {
				policy.MaxDuration = maxTime
			}
			log := logger.New(cfg.LogLevel)
			backend := newBackend(cfg, log)
			date, at, err := q.backend(backend.Stations())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, err := login(ctx, cfg, backend, log)
			if err != nil {
				return err
			}
			offers, err := client.Search(ctx, q.dep, q.arr, date, at)
			if err != nil {
				return err
			}
			set, defects := reservation.NewCandidateSet(offers, selections)

			stream := scheduler.NewStream()
			token := scheduler.NewToken(ctx)
			sched := scheduler.New(client, sp, stream, scheduler.WithPolicy(policy), scheduler.WithLogger(log))

			done := make(chan scheduler.Result, 1)
			go func() { done <- sched.Run(token, set, defects) }()

			if err := follow(cmd.OutOrStdout(), stream); err != nil {
				return err
			}
			res := <-done
			switch res.Outcome {
			case scheduler.Succeeded:
				return nil
			case scheduler.Cancelled:
				return errors.New("cancelled")
			default:
				if res.Err != nil {
					return res.Err
				}
				return fmt.Errorf("run %s", res.Outcome)
			}
		},
	}

	q.flags(c)
	c.Flags().StringSliceVar(&selections, "select", nil, "row numbers to pursue, in priority order (e.g. 0,3)")
	c.Flags().StringVar(&pref, "seat", string(reservation.GeneralFirst), "general-first, general-only, special-first or special-only")
	c.Flags().DurationVar(&delay, "delay", scheduler.DefaultDelay, "pause after every attempt (RETRY_DELAY)")
	c.Flags().IntVar(&maxRounds, "max-rounds", 0, "stop after N rounds, 0 for no limit (MAX_ROUNDS)")
	c.Flags().DurationVar(&maxTime, "max-duration", 0, "stop after this long, 0 for no limit (MAX_DURATION)")
	_ = c.MarkFlagRequired("select")
	return c
}

// follow prints progress lines until the terminal event.
func follow(w io.Writer, stream *scheduler.Stream) error {
	after := 0
	for {
		events, err := stream.Next(context.Background(), after)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s %s\n", e.Time.Format("15:04:05"), e.String())
			after = e.Seq
		}
	}
}
