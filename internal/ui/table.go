package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RoomInfo is the box printed when a room ID is handed out.
type RoomInfo struct {
	RoomID    string
	ServerURL string
	// ExpiresAt is known only for rooms the relay reserved.
	ExpiresAt time.Time
}

func NewRoomInfo(roomID, serverURL string) *RoomInfo {
	return &RoomInfo{RoomID: roomID, ServerURL: serverURL}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s\n\n%s Room ID:  %s\n%s Relay:    %s",
		TitleStyle.Render(IconRoom+" Room ready"),
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconConnect, MutedStyle.Render(r.ServerURL),
	)
	if !r.ExpiresAt.IsZero() {
		content += fmt.Sprintf("\n%s Expires:  %s", IconWaiting, r.ExpiresAt.Local().Format(time.Kitchen))
	}
	content += "\n\n" + MutedStyle.Render("Share the room ID with exactly one other person.")

	return boxStyle.Render(content)
}

// SessionSummary describes a freshly created polling session.
type SessionSummary struct {
	ID        string
	Key       string
	ExpiresAt time.Time
}

func SessionSummaryView(s SessionSummary) string {
	rows := [][]string{
		{"Session ID", s.ID},
		{"Key", s.Key},
	}
	if !s.ExpiresAt.IsZero() {
		rows = append(rows, []string{"Expires", s.ExpiresAt.Local().Format(time.Kitchen)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Field", "Value").
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
