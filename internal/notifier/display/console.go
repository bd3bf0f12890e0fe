package display

import (
	"context"
	"time"

	logx "ps2notify/pkg/logx"
)

// Console writes notifications to the log. It never fails.
type Console struct {
	log logx.Logger
}

func NewConsole(log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Console{log: log.With(logx.String("comp", "display.console"))}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Show(_ context.Context, heading, message string, timeout time.Duration, sound string) error {
	fields := []logx.Field{logx.String("heading", heading), logx.String("message", message)}
	if sound != "" {
		fields = append(fields, logx.String("sound", sound))
	}
	if timeout == 0 {
		fields = append(fields, logx.Bool("sticky", true))
	}
	c.log.Info("alert", fields...)
	return nil
}
