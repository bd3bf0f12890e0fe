package display

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"ps2notify/pkg/tgui"
)

const headingLimit = 256

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, self-hosted servers).
	APIURL  string
	Timeout time.Duration
}

// Telegram sends notifications to one chat. It never polls for updates.
type Telegram struct {
	bot *tele.Bot
	to  *tele.Chat
	cfg TelegramConfig
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, to: &tele.Chat{ID: cfg.ChatID}, cfg: cfg}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Show sends heading and message as HTML. Only sticky (critical) alerts
// ring the phone; the rest are delivered silently.
func (t *Telegram) Show(ctx context.Context, heading, message string, timeout time.Duration, _ string) error {
	text := tgui.JoinH("\n", tgui.B(tgui.TruncRunes(heading, headingLimit)), tgui.Esc(message))
	for _, chunk := range tgui.Split(text, tgui.MaxText) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		opt := &tele.SendOptions{
			ParseMode:           tele.ModeHTML,
			ThreadID:            t.cfg.ThreadID,
			DisableNotification: timeout != 0,
		}
		if _, err := t.bot.Send(t.to, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}
