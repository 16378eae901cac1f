package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrQuit is returned by HandleCommand when the operator asks to leave.
var ErrQuit = errors.New("quit")

const CommandHelp = `Commands:
  ack N | a N            acknowledge call N (card number or call id)
  dismiss N | d N        dismiss call N
  play N | p N           play the audio of call N (acknowledges it)
  stop N | s N           stop the audio of call N
  filter set S[,S...]    select states (names or abbreviations)
  filter toggle S        add or remove one state
  filter clear           show calls from every state
  collapse               collapse or expand the filter panel
  hide | show            pause or resume blinking alerts
  refresh | r            poll now
  help | ?               this text
  quit | q               exit`

// HandleCommand runs one line typed by the operator on the watch screen.
func (c *Controller) HandleCommand(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	needRef := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s needs exactly one call number or id", verb)
		}
		return args[0], nil
	}

	switch verb {
	case "ack", "a":
		ref, err := needRef()
		if err != nil {
			return err
		}
		return c.Acknowledge(ctx, ref)
	case "dismiss", "d":
		ref, err := needRef()
		if err != nil {
			return err
		}
		return c.Dismiss(ctx, ref)
	case "play", "p":
		ref, err := needRef()
		if err != nil {
			return err
		}
		return c.Play(ctx, ref)
	case "stop", "s":
		ref, err := needRef()
		if err != nil {
			return err
		}
		if !c.Stop(ref) {
			return fmt.Errorf("call %s is not playing", ref)
		}
		return nil
	case "filter", "f":
		return c.filterCommand(ctx, args)
	case "collapse":
		_, err := c.ToggleCollapsed(ctx)
		return err
	case "hide":
		c.SetVisible(false)
		return nil
	case "show":
		c.SetVisible(true)
		return nil
	case "refresh", "r":
		return c.Poll(ctx)
	case "help", "h", "?":
		return nil
	case "quit", "q", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q, type help", verb)
	}
}

func (c *Controller) filterCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("filter needs set, toggle or clear")
	}
	rest := strings.Join(args[1:], " ")
	var err error
	switch strings.ToLower(args[0]) {
	case "set":
		_, err = c.SetFilter(ctx, SplitStates(rest))
	case "toggle":
		if strings.TrimSpace(rest) == "" {
			return errors.New("filter toggle needs a state")
		}
		_, err = c.ToggleState(ctx, rest)
	case "clear":
		_, err = c.SetFilter(ctx, nil)
	default:
		return fmt.Errorf("unknown filter action %q", args[0])
	}
	return err
}

// SplitStates splits a comma separated state list, dropping empty entries.
func SplitStates(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
