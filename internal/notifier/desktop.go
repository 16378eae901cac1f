package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattmezza/callwatch/internal/config"
)

// DesktopNotifier shells out to a desktop notification tool (notify-send by
// default), passing the title and the rendered body as the last two arguments.
type DesktopNotifier struct {
	name    string
	command []string
	timeout time.Duration
}

func NewDesktopNotifier(name string, cfg config.DesktopChannelConfig) (*DesktopNotifier, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("desktop notifier '%s' has no command", name)
	}
	return &DesktopNotifier{name: name, command: cfg.Command, timeout: 5 * time.Second}, nil
}

func (dn *DesktopNotifier) Name() string {
	return dn.name
}

func (dn *DesktopNotifier) Send(data NotificationData, templates NotificationTemplates) error {
	body, err := renderTemplate("desktop_body", templates.NewCallTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to render desktop template for call '%s': %w", data.CallID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dn.timeout)
	defer cancel()

	args := append(append([]string{}, dn.command[1:]...), data.Title(), body)
	out, err := exec.CommandContext(ctx, dn.command[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("desktop notification command %s failed: %w: %s", dn.command[0], err, out)
	}
	return nil
}
