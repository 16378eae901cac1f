package notifier

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"sync"
	gotexttemplate "text/template"
	"time"

	"github.com/mattmezza/callwatch/internal/config"
)

// NotificationData is the data passed to templates.
type NotificationData struct {
	Tag        string // de-duplication key, the call id
	CallID     string
	Agency     string
	Location   string
	State      string
	Timestamp  string // already formatted for display
	Transcript string
	AudioURL   string
	Time       time.Time // when the client first saw the call
}

// Title is the one-line summary used as a subject or desktop heading.
func (d NotificationData) Title() string {
	return fmt.Sprintf("NEW FIRE CALL: %s (%s)", d.Agency, d.State)
}

type NotificationTemplates struct {
	NewCallTemplate string
}

// Notifier is the interface for all notification channel types.
type Notifier interface {
	Send(data NotificationData, templates NotificationTemplates) error
	Name() string // Returns the configured channel name
}

func renderTemplate(templateName string, templateStr string, data NotificationData) (string, error) {
	tmpl, err := gotexttemplate.New(templateName).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse notification template '%s': %w", templateName, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute notification template '%s': %w", templateName, err)
	}
	return buf.String(), nil
}

func InitializeNotifiers(cfgNotifChannels []config.NotificationChannelConfig) (map[string]Notifier, error) {
	notifiers := make(map[string]Notifier)
	for _, ncCfg := range cfgNotifChannels {
		var instance Notifier
		var err error
		switch ncCfg.Type {
		case "email":
			emailCfg, convErr := config.GetEmailChannelConfig(ncCfg)
			if convErr != nil {
				log.Printf("Skipping email channel '%s' due to config error: %v", ncCfg.Name, convErr)
				continue
			}
			instance, err = NewEmailNotifier(ncCfg.Name, *emailCfg)
		case "telegram":
			telegramCfg, convErr := config.GetTelegramChannelConfig(ncCfg)
			if convErr != nil {
				log.Printf("Skipping telegram channel '%s' due to config error: %v", ncCfg.Name, convErr)
				continue
			}
			instance, err = NewTelegramNotifier(ncCfg.Name, *telegramCfg)
		case "desktop":
			desktopCfg, convErr := config.GetDesktopChannelConfig(ncCfg)
			if convErr != nil {
				log.Printf("Skipping desktop channel '%s' due to config error: %v", ncCfg.Name, convErr)
				continue
			}
			instance, err = NewDesktopNotifier(ncCfg.Name, *desktopCfg)
		case "stdout":
			instance, err = NewStdoutNotifier(ncCfg.Name)
		default:
			log.Printf("Unsupported notification channel type '%s' for channel '%s'. Skipping.", ncCfg.Type, ncCfg.Name)
			continue
		}

		if err != nil {
			log.Printf("Failed to initialize notifier for channel '%s' (%s): %v. Skipping.", ncCfg.Name, ncCfg.Type, err)
			continue
		}
		if _, exists := notifiers[ncCfg.Name]; exists {
			return nil, fmt.Errorf("duplicate notification channel name defined: %s", ncCfg.Name)
		}
		notifiers[ncCfg.Name] = instance
		log.Printf("Successfully initialized notifier for channel: %s (type: %s)", ncCfg.Name, ncCfg.Type)
	}
	return notifiers, nil
}

// Dispatcher fans a notification out to channels and drops repeats of a tag,
// the way a desktop notification server replaces notifications sharing a tag.
type Dispatcher struct {
	notifiers map[string]Notifier
	channels  []string
	templates NotificationTemplates

	mu   sync.Mutex
	sent map[string]bool
}

// NewDispatcher sends to channels, or to every notifier when channels is empty.
func NewDispatcher(notifiers map[string]Notifier, channels []string, templates NotificationTemplates) *Dispatcher {
	if len(channels) == 0 {
		for name := range notifiers {
			channels = append(channels, name)
		}
		sort.Strings(channels)
	}
	return &Dispatcher{
		notifiers: notifiers,
		channels:  channels,
		templates: templates,
		sent:      make(map[string]bool),
	}
}

// Notify sends data once per tag. It returns false when the tag was already
// sent. Channel failures are logged, not returned.
func (d *Dispatcher) Notify(data NotificationData) bool {
	d.mu.Lock()
	if data.Tag != "" && d.sent[data.Tag] {
		d.mu.Unlock()
		return false
	}
	if data.Tag != "" {
		d.sent[data.Tag] = true
	}
	d.mu.Unlock()

	for _, channelName := range d.channels {
		notifierInstance, ok := d.notifiers[channelName]
		if !ok {
			log.Printf("Warning: Notification channel '%s' for call '%s' not found/configured.", channelName, data.CallID)
			continue
		}
		if err := notifierInstance.Send(data, d.templates); err != nil {
			log.Printf("Failed to send notification for call '%s' via channel '%s': %v", data.CallID, channelName, err)
		} else {
			log.Printf("Notification sent for call '%s' via channel '%s'", data.CallID, channelName)
		}
	}
	return true
}

// Release forgets tag so a later Notify with it is delivered again.
func (d *Dispatcher) Release(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sent, tag)
}
