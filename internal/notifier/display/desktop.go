package display

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Desktop shows notifications through notify-send.
type Desktop struct {
	Command string // defaults to "notify-send"
	AppName string

	run func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(command, appName string) *Desktop {
	if command == "" {
		command = "notify-send"
	}
	if appName == "" {
		appName = "ps2notify"
	}
	return &Desktop{Command: command, AppName: appName, run: runCommand}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Show(ctx context.Context, heading, message string, timeout time.Duration, sound string) error {
	run := d.run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, d.Command, d.args(heading, message, timeout, sound)...); err != nil {
		return fmt.Errorf("%s: %w", d.Command, err)
	}
	return nil
}

func (d *Desktop) args(heading, message string, timeout time.Duration, sound string) []string {
	urgency := "normal"
	if timeout == 0 {
		urgency = "critical"
	}
	args := []string{
		"-a", d.AppName,
		"-u", urgency,
		"-t", strconv.FormatInt(timeout.Milliseconds(), 10),
	}
	if sound != "" {
		args = append(args, "-h", "string:sound-name:"+sound)
	}
	return append(args, "--", heading, message)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, out)
	}
	return err
}
