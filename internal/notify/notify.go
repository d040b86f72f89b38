package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"

	"github.com/example/rail-scheduler/internal/runs"
	"github.com/example/rail-scheduler/internal/scheduler"
)

var (
	_ runs.Notifier = (*Telegram)(nil)
	_ runs.Notifier = Nop{}
)

type Nop struct{}

func (Nop) Notify(context.Context, *runs.Run, scheduler.Result) error { return nil }

// Telegram posts a message to one chat whenever a run books a seat.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger
}

type Option func(*telegramOpts)

type telegramOpts struct {
	serverURL string
}

// WithServerURL points the bot at a different Bot API server.
func WithServerURL(u string) Option { return func(o *telegramOpts) { o.serverURL = u } }

func NewTelegram(token string, chatID int64, logger *slog.Logger, opts ...Option) (*Telegram, error) {
	var o telegramOpts
	for _, opt := range opts {
		opt(&o)
	}
	var botOpts []bot.Option
	if o.serverURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(o.serverURL))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, run *runs.Run, res scheduler.Result) error {
	if res.Outcome != scheduler.Succeeded {
		return nil
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   Message(res),
	})
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	t.logger.Info("booking notification sent", slog.String("run_id", run.ID))
	return nil
}

// Message is the notification text for a booked run.
func Message(res scheduler.Result) string {
	var b strings.Builder
	b.WriteString("🚄 Seat booked")
	if res.Candidate != nil {
		b.WriteString(": " + res.Candidate.Label())
	}
	if r := res.Reservation; r != nil {
		if r.Class != "" {
			b.WriteString(" (" + string(r.Class) + ")")
		}
		if r.ID != "" {
			b.WriteString("\nreservation " + r.ID)
		}
	}
	fmt.Fprintf(&b, "\nafter %d attempt(s). Pay for it in the app before the hold expires.", res.Attempts)
	return b.String()
}
