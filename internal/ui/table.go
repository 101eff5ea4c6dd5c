package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

// StatsView renders server statistics for `tandem online`.
func StatsView(server string, stats signaling.Stats) string {
	t := prettytable.NewWriter()
	t.SetTitle(IconOnline + " " + server)
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Online users", stats.Online},
		{"Waiting for a match", stats.Waiting},
		{"Calls in progress", stats.ActiveRooms},
		{"Recently ended calls", stats.EndedRooms},
	})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.SetStyle(prettytable.StyleRounded)
	return t.Render()
}

func RenderStats(w io.Writer, server string, stats signaling.Stats) {
	fmt.Fprintln(w, StatsView(server, stats))
}

// CallSummary is shown after the call screen closes.
type CallSummary struct {
	RoomID   string
	Peer     string
	Status   string
	Duration time.Duration
	Messages int
}

func CallSummaryView(summary CallSummary) string {
	rows := [][]string{
		{"Status", summary.Status},
		{"Room", summary.RoomID},
		{"Peer", summary.Peer},
		{"Duration", FormatDuration(summary.Duration)},
		{"Messages", fmt.Sprintf("%d", summary.Messages)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Call", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomView announces a new match.
func RoomView(room matchmaking.Room, self string) string {
	peer, _ := room.Other(self)
	role := "answering"
	if room.IsInitiator(self) {
		role = "calling"
	}

	content := fmt.Sprintf("%s Matched!\n\n%s Room:  %s\n%s Peer:  %s\n%s Role:  %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(room.ID),
		IconPeer, PeerStyle.Render(peer),
		IconConnect, MutedStyle.Render(role),
	)
	return RoomBoxStyle.Render(content)
}

// FormatDuration renders d as mm:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
