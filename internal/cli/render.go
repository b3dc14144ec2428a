// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/util"
	"github.com/mattn/go-runewidth"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// renderer renders assistant replies. A nil renderer prints raw text.
type renderer struct {
	md *glamour.TermRenderer
}

// newRenderer returns a markdown renderer when enabled and stdout is a
// terminal.
func newRenderer(enabled bool, wrap int) *renderer {
	if !enabled || !IsStdoutTTY() {
		return &renderer{}
	}
	if wrap <= 0 {
		wrap = GetTerminalWidth() - 4
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return &renderer{}
	}
	return &renderer{md: md}
}

// streaming reports whether fragments should be printed as they arrive.
func (r *renderer) streaming() bool {
	return r.md == nil
}

// render returns content as it should be printed after the reply is done.
func (r *renderer) render(content string) string {
	if r.md == nil {
		return content
	}
	out, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// TABLES
// =============================================================================

// table prints aligned columns using display width.
type table struct {
	widths []int
	rows   [][]string
}

func newTable(headers ...string) *table {
	t := &table{widths: make([]int, len(headers))}
	t.add(headers...)
	return t
}

func (t *table) add(cells ...string) {
	row := make([]string, len(t.widths))
	for i := range t.widths {
		if i < len(cells) {
			row[i] = util.SingleLine(cells[i])
		}
	}
	t.rows = append(t.rows, row)
}

// write prints the table, truncating column i to limits[i] where set.
func (t *table) write(w io.Writer, limits map[int]int) {
	for _, row := range t.rows {
		for i, cell := range row {
			if m, ok := limits[i]; ok {
				row[i] = util.TruncateWidth(cell, m)
			}
		}
	}
	for _, row := range t.rows {
		for i, cell := range row {
			t.widths[i] = max(t.widths[i], runewidth.StringWidth(cell))
		}
	}
	for n, row := range t.rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(util.PadRight(cell, t.widths[i]+2))
		}
		line := strings.TrimRight(b.String(), " ")
		if n == 0 {
			line = TitleStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

// =============================================================================
// FORMATTERS
// =============================================================================

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// writeMessage prints one transcript entry.
func writeMessage(w io.Writer, r *renderer, m *model.Message) {
	who := AssistantStyle.Render("assistant")
	if m.IsUser {
		who = UserStyle.Render("you")
	}
	fmt.Fprintf(w, "%s %s\n", who, DimStyle.Render(formatTime(m.Timestamp)))
	if m.FileInfo != nil {
		fmt.Fprintf(w, "%s\n", DimStyle.Render("[file] "+m.FileInfo.Name))
	}
	if m.IsUser {
		fmt.Fprintln(w, m.Content)
	} else {
		fmt.Fprintln(w, strings.TrimRight(r.render(m.Content), "\n"))
	}
	fmt.Fprintln(w)
}
