package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattmezza/callwatch/internal/api"
	"github.com/mattmezza/callwatch/internal/board"
	"github.com/mattmezza/callwatch/internal/config"
	"github.com/mattmezza/callwatch/internal/controller"
	"github.com/mattmezza/callwatch/internal/metrics"
	"github.com/mattmezza/callwatch/internal/notifier"
	"github.com/mattmezza/callwatch/internal/prefs"
	"github.com/mattmezza/callwatch/internal/reconcile"
	"github.com/mattmezza/callwatch/internal/sound"
	"github.com/mattmezza/callwatch/internal/states"
)

var (
	configFile string
	logFile    string
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "callwatch",
		Short:        "Monitor fire dispatch calls and alert on new ones",
		SilenceUsage: true,
		RunE:         runWatch,
		Args:         cobra.NoArgs,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to the configuration file.")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file while watching (default stderr).")

	root.AddCommand(
		&cobra.Command{
			Use:   "watch",
			Short: "Poll the backend and show the live call board (default)",
			Args:  cobra.NoArgs,
			RunE:  runWatch,
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the calls currently held by the backend",
			Args:  cobra.NoArgs,
			RunE:  runList,
		},
		&cobra.Command{
			Use:   "health",
			Short: "Print the backend scanner status",
			Args:  cobra.NoArgs,
			RunE:  runHealth,
		},
		&cobra.Command{
			Use:   "states",
			Short: "List the state names the backend can filter on",
			Args:  cobra.NoArgs,
			RunE:  runStates,
		},
		newFilterCmd(),
		&cobra.Command{
			Use:   "ack ID",
			Short: "Acknowledge a call",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCallAction(cmd, "acknowledge", args[0])
			},
		},
		&cobra.Command{
			Use:   "dismiss ID",
			Short: "Dismiss a call on the backend",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCallAction(cmd, "dismiss", args[0])
			},
		},
		&cobra.Command{
			Use:   "test-notification [channel]",
			Short: "Send a sample new-call notification",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var channelName string
				if len(args) > 0 {
					channelName = args[0]
				}
				return testNotification(configFile, channelName)
			},
		},
		newToneCmd(),
	)
	return root
}

func newFilterCmd() *cobra.Command {
	filterCmd := &cobra.Command{
		Use:   "filter",
		Short: "Show or change the state filter",
	}
	filterCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the selected states",
			Args:  cobra.NoArgs,
			RunE:  runFilterShow,
		},
		&cobra.Command{
			Use:   "set STATE[,STATE...]",
			Short: "Select states by name or abbreviation",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runFilterSet(cmd, controller.SplitStates(strings.Join(args, ",")))
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Show calls from every state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runFilterSet(cmd, nil)
			},
		},
		&cobra.Command{
			Use:   "collapse",
			Short: "Collapse or expand the filter panel of the board",
			Args:  cobra.NoArgs,
			RunE:  runFilterCollapse,
		},
	)
	return filterCmd
}

func newToneCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Write the alert tone as a WAV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := sound.AlertTone.WriteWAV(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert tone written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "alert.wav", "WAV file to write.")
	return cmd
}

// app bundles what the one-shot commands share.
type app struct {
	cfg    *config.Config
	client *api.Client
	store  *prefs.Store
}

func openApp(withStore bool) (*app, error) {
	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configFile, err)
	}
	a := &app{cfg: cfg, client: api.NewClient(cfg.APIURL, cfg.RequestTimeout)}
	if withStore {
		if a.store, err = prefs.Open(cfg.StorePath); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// controller builds a controller whose board is not shown.
func (a *app) controller(ctx context.Context) (*controller.Controller, error) {
	return controller.New(ctx, controller.Options{
		Config:  a.cfg,
		Backend: a.client,
		Prefs:   a.store,
		Board:   board.New(nil, time.Local),
		Sound:   sound.Silent{},
	})
}

func newSoundPlayer(cfg *config.Config) (sound.Player, func(), error) {
	switch cfg.Alerts.Sound {
	case "off":
		return sound.Silent{}, func() {}, nil
	case "command":
		p, err := sound.NewCommandPlayer(cfg.Alerts.SoundCommand, sound.AlertTone, "")
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	default:
		return sound.Bell{Out: os.Stdout}, func() {}, nil
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	} else {
		log.SetOutput(os.Stderr)
	}

	log.Println("Starting callwatch...")
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	log.Printf("Configuration loaded from %s. API: %s, interval: %s", configFile, cfg.APIURL, cfg.PollInterval)

	configuredNotifiers, err := notifier.InitializeNotifiers(cfg.NotificationChannels)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	log.Printf("%d notification channel(s) initialized.", len(configuredNotifiers))
	dispatcher := notifier.NewDispatcher(configuredNotifiers, cfg.Alerts.Channels,
		notifier.NotificationTemplates{NewCallTemplate: cfg.Templates.NewCall})

	player, closeSound, err := newSoundPlayer(cfg)
	if err != nil {
		return err
	}
	defer closeSound()

	out := cmd.OutOrStdout()
	b := board.New(out, time.Local)
	ctrl, err := controller.New(ctx, controller.Options{
		Config:     cfg,
		Backend:    a.client,
		Prefs:      a.store,
		Board:      b,
		Dispatcher: dispatcher,
		Sound:      player,
		Metrics:    metrics.New(),
		Location:   time.Local,
	})
	if err != nil {
		return err
	}

	redraw := make(chan struct{}, 1)
	b.OnChange(func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()

	message := "Type help for commands."
	draw := func() {
		fmt.Fprint(out, "\033[H\033[2J")
		if err := b.Render(out); err != nil {
			log.Printf("Warning: render failed: %v", err)
		}
		fmt.Fprintf(out, "\n%s\n> ", message)
	}
	draw()

	for {
		select {
		case <-redraw:
			draw()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			message = ""
			err := ctrl.HandleCommand(runCtx, line)
			switch {
			case errors.Is(err, controller.ErrQuit):
				cancel()
			case err != nil:
				message = "Error: " + err.Error()
			case isHelp(line):
				message = controller.CommandHelp
			}
			draw()
		case err := <-done:
			log.Println("callwatch shut down.")
			return err
		}
	}
}

func isHelp(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "help", "h", "?":
		return true
	}
	return false
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(false)
	if err != nil {
		return err
	}
	resp, err := a.client.FetchCalls(ctx)
	if err != nil {
		return err
	}

	b := board.New(nil, time.Local)
	for i := range resp.Calls {
		if resp.Calls[i].State == "" {
			resp.Calls[i].State = states.FromLocation(resp.Calls[i].Location)
		}
	}
	b.Apply(reconcile.Compute(nil, resp.Calls))
	b.SetStatus("Connected")
	if resp.LastCheck != "" {
		b.SetLastCheck(resp.LastCheck)
	}
	return b.Render(cmd.OutOrStdout())
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(false)
	if err != nil {
		return err
	}
	h, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", h.Status)
	fmt.Fprintf(out, "Queue: %d\n", h.QueueSize)
	fmt.Fprintf(out, "Check Start: %s\n", api.FormatTimestamp(h.CheckStart, time.Local))
	fmt.Fprintf(out, "Check Finish: %s\n", api.FormatTimestamp(h.CheckFinish, time.Local))
	if !h.Running() {
		return fmt.Errorf("backend scanner is %q", h.Status)
	}
	return nil
}

func runStates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(false)
	if err != nil {
		return err
	}
	names, err := a.client.States(ctx)
	if err != nil {
		log.Printf("Warning: backend state list unavailable, using the built-in list: %v", err)
		names = states.All()
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func runFilterShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	f := ctrl.Filter()
	selected := "all states"
	if !f.Empty() {
		selected = strings.Join(f.Selected(), ", ")
	}
	bound := "unbounded"
	if f.MaxSelected() > 0 {
		bound = fmt.Sprintf("at most %d", f.MaxSelected())
	}
	fmt.Fprintf(out, "Selected: %s (%s)\n", selected, bound)
	fmt.Fprintf(out, "Panel collapsed: %t\n", ctrl.Collapsed())
	return nil
}

func runFilterSet(cmd *cobra.Command, names []string) error {
	ctx := cmd.Context()
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	res, err := ctrl.SetFilter(ctx, names)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Filter updated: %d states selected, %d queued calls removed\n", res.SelectedCount, res.RemovedFromQueue)
	return nil
}

func runFilterCollapse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	collapsed, err := ctrl.ToggleCollapsed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Panel collapsed: %t\n", collapsed)
	return nil
}

func runCallAction(cmd *cobra.Command, action, id string) error {
	ctx := cmd.Context()
	a, err := openApp(false)
	if err != nil {
		return err
	}
	var res *api.Result
	if action == "dismiss" {
		res, err = a.client.Dismiss(ctx, id)
	} else {
		res, err = a.client.Acknowledge(ctx, id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func testNotification(configPath, channelName string) error {
	log.Println("Testing notification channels...")

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	if channelName != "" {
		var available []string
		found := false
		for _, channel := range cfg.NotificationChannels {
			available = append(available, channel.Name)
			if channel.Name == channelName {
				found = true
			}
		}
		if !found {
			if len(available) > 0 {
				return fmt.Errorf("channel '%s' not found in configuration. Available channels: %s",
					channelName, strings.Join(available, ", "))
			}
			return fmt.Errorf("channel '%s' not found and no notification channels configured", channelName)
		}
	}

	configuredNotifiers, err := notifier.InitializeNotifiers(cfg.NotificationChannels)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	if len(configuredNotifiers) == 0 {
		return errors.New("no notification channels were successfully initialized")
	}

	now := time.Now()
	testData := notifier.NotificationData{
		Tag:        "test",
		CallID:     "test",
		Agency:     "Test Fire Department",
		Location:   "Springfield, IL",
		State:      "Illinois",
		Timestamp:  api.FormatTimestamp(now.Format(time.RFC3339), time.Local),
		Transcript: "This is a test notification from callwatch.",
		Time:       now,
	}
	templates := notifier.NotificationTemplates{NewCallTemplate: cfg.Templates.NewCall}

	if channelName != "" {
		n, exists := configuredNotifiers[channelName]
		if !exists {
			return fmt.Errorf("channel '%s' was not successfully initialized", channelName)
		}
		log.Printf("Testing notification channel: %s", channelName)
		if err := n.Send(testData, templates); err != nil {
			return fmt.Errorf("failed to send test notification to channel '%s': %w", channelName, err)
		}
		log.Printf("✅ Test notification sent successfully to channel: %s", channelName)
		return nil
	}

	log.Printf("Testing all %d configured notification channels...", len(configuredNotifiers))
	successCount := 0
	for name, n := range configuredNotifiers {
		log.Printf("Testing channel: %s", name)
		if err := n.Send(testData, templates); err != nil {
			log.Printf("❌ Failed to send test notification to channel '%s': %v", name, err)
			continue
		}
		log.Printf("✅ Test notification sent successfully to channel: %s", name)
		successCount++
	}
	log.Printf("Test completed: %d/%d channels successful", successCount, len(configuredNotifiers))
	if successCount == 0 {
		return errors.New("all notification channels failed")
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
