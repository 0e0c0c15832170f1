package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// reportRow is the reports view's flattened projection of a report row.
type reportRow struct {
	UUID        string    `db:"uuid"`
	TaskUUID    string    `db:"task_uuid"`
	RunStatus   string    `db:"run_status"`
	MaxSeverity float64   `db:"max_severity"`
	ScanStart   *time.Time `db:"scan_start"`
	ScanEnd     *time.Time `db:"scan_end"`
}

func (r reportRow) level() string {
	lvl, err := model.Severity(r.MaxSeverity).ToLevel()
	if err != nil {
		return string(model.LevelNone)
	}
	return string(lvl)
}

// ReportsModel displays recent reports with a severity-band filter.
type ReportsModel struct {
	db      store.DB
	reports []reportRow
	width   int
	height  int
	cursor  int
	filter  string // "Critical" | "High" | "Medium" | "Low" | "" (all)
	loading bool
}

type reportsLoadedMsg struct{ reports []reportRow }

// NewReportsModel creates a ReportsModel.
func NewReportsModel(db store.DB) ReportsModel {
	return ReportsModel{db: db, loading: true}
}

func (r ReportsModel) Init() tea.Cmd {
	return r.loadCmd()
}

func (r ReportsModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var reports []reportRow
		_ = r.db.Select(ctx, &reports,
			`SELECT uuid, task_uuid, run_status, max_severity, scan_start, scan_end
			 FROM reports ORDER BY scan_start DESC LIMIT 200`)
		return reportsLoadedMsg{reports: reports}
	}
}

func (r ReportsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case reportsLoadedMsg:
		r.reports = msg.reports
		r.loading = false
		return r, tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
			return r.loadCmd()()
		})

	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			r.cursor++
		case "k", "up":
			if r.cursor > 0 {
				r.cursor--
			}
		case "c":
			r.filter = string(model.LevelCritical)
			r.cursor = 0
		case "h":
			r.filter = string(model.LevelHigh)
			r.cursor = 0
		case "m":
			r.filter = string(model.LevelMedium)
			r.cursor = 0
		case "l":
			r.filter = string(model.LevelLow)
			r.cursor = 0
		case "0":
			r.filter = ""
			r.cursor = 0
		case "r":
			r.loading = true
			return r, r.loadCmd()
		}
	}
	r = r.clampCursor()
	return r, nil
}

func (r *ReportsModel) SetSize(w, h int) {
	r.width = w
	r.height = h
}

func (r ReportsModel) filtered() []reportRow {
	if r.filter == "" {
		return r.reports
	}
	out := make([]reportRow, 0, len(r.reports))
	for _, rep := range r.reports {
		if rep.level() == r.filter {
			out = append(out, rep)
		}
	}
	return out
}

func (r ReportsModel) View() string {
	if r.loading && len(r.reports) == 0 {
		return panelStyle.Width(max(20, r.width-2)).Render("Loading reports...")
	}

	visible := r.filtered()
	lineLimit := r.height - 10
	if lineLimit < 5 {
		lineLimit = 5
	}

	rows := ""
	for i, rep := range visible {
		if i >= lineLimit {
			break
		}
		rows += r.renderRow(i,
			rep.level(),
			truncate(rep.TaskUUID, 34),
			rep.RunStatus,
			formatScanWindow(rep.ScanStart, rep.ScanEnd),
		)
	}
	if rows == "" {
		rows = dimStyle.Render("No reports yet.\n")
	}

	filterBar := lipgloss.JoinHorizontal(lipgloss.Left,
		r.filterChip("All", "", len(r.reports), "0"),
		" ",
		r.filterChip("Critical", string(model.LevelCritical), r.countLevel(model.LevelCritical), "c"),
		" ",
		r.filterChip("High", string(model.LevelHigh), r.countLevel(model.LevelHigh), "h"),
		" ",
		r.filterChip("Medium", string(model.LevelMedium), r.countLevel(model.LevelMedium), "m"),
		" ",
		r.filterChip("Low", string(model.LevelLow), r.countLevel(model.LevelLow), "l"),
		"  ",
		keycapStyle.Render("r"),
		" ",
		dimStyle.Render("refresh"),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		panelStyle.Width(max(20, r.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Reports"),
				filterBar,
				"",
				dimStyle.Render("Severity   Task                                Run Status       Window"),
				rows,
				"",
				dimStyle.Render("j/k navigate  c/h/m/l severity  0 all"),
			),
		),
	)
}

func (r ReportsModel) renderRow(idx int, severity, taskUUID, runStatus, window string) string {
	cursor := " "
	if idx == r.cursor {
		cursor = "▌"
	}
	sev := severity
	if sev == "" {
		sev = "-"
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Width(2).Foreground(accent).Render(cursor),
		lipgloss.NewStyle().Width(10).Render(severityStyle(strings.ToUpper(sev)).Render(sev)),
		lipgloss.NewStyle().Width(36).Foreground(ink).Render(taskUUID),
		lipgloss.NewStyle().Width(17).Foreground(slate).Render(runStatus),
		dimStyle.Render(window),
	)
	if idx == r.cursor {
		return selectedRowStyle.Width(max(20, r.width-6)).Render(line) + "\n"
	}
	return line + "\n"
}

func (r ReportsModel) filterChip(label, value string, count int, key string) string {
	text := fmt.Sprintf("%s %d", label, count)
	if r.filter == value {
		return activeTabStyle.Render(text)
	}
	return tabStyle.Render(text + " [" + key + "]")
}

func (r ReportsModel) countLevel(lvl model.Level) int {
	n := 0
	for _, rep := range r.reports {
		if rep.level() == string(lvl) {
			n++
		}
	}
	return n
}

func (r ReportsModel) clampCursor() ReportsModel {
	total := len(r.filtered())
	if total == 0 {
		r.cursor = 0
		return r
	}
	if r.cursor < 0 {
		r.cursor = 0
	}
	if r.cursor >= total {
		r.cursor = total - 1
	}
	return r
}

func formatScanWindow(start, end *time.Time) string {
	if start == nil {
		return "-"
	}
	s := start.Format("15:04:05")
	if end == nil {
		return s + " -"
	}
	return s + " - " + end.Format("15:04:05")
}
