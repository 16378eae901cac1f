package board

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/mattmezza/callwatch/internal/api"
)

const heading = "Callwatch - Fire Call Monitor"

var (
	bannerColor  = color.New(color.BgRed, color.FgWhite, color.Bold)
	headingColor = color.New(color.FgHiWhite, color.Bold)
	agencyColor  = color.New(color.Bold)
	unackColor   = color.New(color.FgYellow, color.Bold)
	ackColor     = color.New(color.FgHiBlack)
	playingColor = color.New(color.FgHiMagenta)
	faintColor   = color.New(color.FgHiBlack)
)

// Render draws the whole board to w.
func (b *Board) Render(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	if b.border {
		sb.WriteString(bannerColor.Sprint("  !!! NEW FIRE CALL !!!  "))
		sb.WriteString("\n")
	}
	sb.WriteString(headingColor.Sprint(heading))
	sb.WriteString("\n")
	sb.WriteString(b.statusLine())
	sb.WriteString("\n")
	if b.polls != nil {
		sb.WriteString(b.pollLine())
		sb.WriteString("\n")
	}
	sb.WriteString(b.filterLine())
	sb.WriteString("\n\n")

	unack := 0
	for _, id := range b.order {
		if card, ok := b.cards[id]; ok && !card.Call.Acknowledged {
			unack++
		}
	}
	fmt.Fprintf(&sb, "Active calls: %d (%d unacknowledged)\n", len(b.order), unack)
	if len(b.order) == 0 {
		sb.WriteString(faintColor.Sprint("No active fire calls"))
		sb.WriteString("\n")
	}
	for i, id := range b.order {
		card, ok := b.cards[id]
		if !ok {
			continue
		}
		b.writeCard(&sb, i+1, card)
	}
	if b.border {
		sb.WriteString(bannerColor.Sprint("  !!! NEW FIRE CALL !!!  "))
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (b *Board) statusLine() string {
	var status string
	switch b.status {
	case "running":
		status = color.New(color.FgGreen).Sprint(b.status)
	case StatusError:
		status = color.New(color.FgRed, color.Bold).Sprint(b.status)
	default:
		status = color.New(color.FgYellow).Sprint(b.status)
	}
	parts := []string{"Status: " + status}
	if b.health != nil {
		queue := fmt.Sprintf("Queue: %d", b.health.QueueSize)
		if b.health.QueueSize > 0 {
			queue = color.New(color.FgCyan).Sprint(queue)
		}
		parts = append(parts,
			queue,
			"Check Start: "+api.FormatTimestamp(b.health.CheckStart, b.loc),
			"Check Finish: "+api.FormatTimestamp(b.health.CheckFinish, b.loc),
		)
	}
	if b.lastCheck != "" {
		parts = append(parts, "Last Check: "+api.FormatTimestamp(b.lastCheck, b.loc))
	}
	return strings.Join(parts, " | ")
}

func (b *Board) pollLine() string {
	ps := b.polls
	last := "Never"
	if !ps.LastSuccess.IsZero() {
		last = ps.LastSuccess.In(b.loc).Format("3:04:05 PM")
	}
	parts := []string{"Last poll: " + last}
	if ps.Failures > 0 {
		parts = append(parts, color.New(color.FgRed).Sprintf("Failing: %d in a row", ps.Failures))
	}
	if ps.Window > 0 {
		parts = append(parts, fmt.Sprintf("Last %s: %d polls, %d failed", ps.Window, ps.Recent, ps.RecentFailed))
	}
	return faintColor.Sprint(strings.Join(parts, " | "))
}

func (b *Board) filterLine() string {
	count := fmt.Sprintf("%d", len(b.selected))
	if b.maxSel > 0 {
		count = fmt.Sprintf("%d/%d", len(b.selected), b.maxSel)
	}
	if b.collapsed {
		return fmt.Sprintf("▲ State filter (%s)", count)
	}
	selected := "all states"
	if len(b.selected) > 0 {
		selected = strings.Join(b.selected, ", ")
	}
	return fmt.Sprintf("▼ State filter (%s): %s", count, selected)
}

func (b *Board) writeCard(sb *strings.Builder, n int, card *Card) {
	c := card.Call
	status := unackColor.Sprint("UNACKNOWLEDGED")
	if c.Acknowledged {
		status = ackColor.Sprint("acknowledged")
	}
	fmt.Fprintf(sb, "[%d] %s - %s (%s)  %s", n, agencyColor.Sprint(orDash(c.Agency)), orDash(c.Location), orDash(c.State), status)
	if card.Playing {
		sb.WriteString(playingColor.Sprint("  ▶ playing"))
	}
	sb.WriteString("\n")

	transcript := c.Transcript
	if strings.TrimSpace(transcript) == "" {
		transcript = faintColor.Sprint(noTranscript)
	}
	audio := c.AudioURL
	if strings.TrimSpace(audio) == "" {
		audio = faintColor.Sprint(noAudio)
	}
	fmt.Fprintf(sb, "    Time: %s\n", api.FormatTimestamp(c.Timestamp, b.loc))
	fmt.Fprintf(sb, "    Transcript: %s\n", transcript)
	fmt.Fprintf(sb, "    Audio: %s\n", audio)
	fmt.Fprintf(sb, "    ID: %s\n", faintColor.Sprint(c.ID))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
