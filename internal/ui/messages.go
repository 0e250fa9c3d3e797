package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// MessageRow is one line of a polled session.
type MessageRow struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

// MessageTableView renders polled messages oldest first.
func MessageTableView(title string, rows []MessageRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No messages yet")
	}

	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(table.Row{"#", "Time", "Content", "ID"})
	for i, r := range rows {
		t.AppendRow(table.Row{
			i + 1,
			r.CreatedAt.Local().Format("15:04:05"),
			truncate(r.Content, 60),
			truncate(r.ID, 8),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: 60},
	})
	return t.Render()
}

func RenderMessageTable(title string, rows []MessageRow) {
	fmt.Println(MessageTableView(title, rows))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
