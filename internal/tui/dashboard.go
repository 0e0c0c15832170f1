package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ov-project/govmd/internal/store"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// taskRow is the dashboard's flattened projection of a task row.
type taskRow struct {
	UUID          string `db:"uuid"`
	Name          string `db:"name"`
	Status        string `db:"status"`
	ScannerUUID   string `db:"scanner_uuid"`
	CurrentReport string `db:"current_report_uuid"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// DashboardModel shows the overview: recent tasks and their status counts.
type DashboardModel struct {
	db       store.DB
	tasks    []taskRow
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

// dashLoadedMsg carries loaded tasks.
type dashLoadedMsg struct{ tasks []taskRow }

// NewDashboardModel creates a DashboardModel.
func NewDashboardModel(db store.DB) DashboardModel {
	return DashboardModel{db: db, loading: true}
}

func (d DashboardModel) Init() tea.Cmd {
	return d.loadCmd()
}

func (d DashboardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		var tasks []taskRow
		ctx := context.Background()
		_ = d.db.Select(ctx, &tasks,
			`SELECT uuid, name, status, scanner_uuid, current_report_uuid, updated_at
			 FROM tasks ORDER BY updated_at DESC LIMIT 20`)
		return dashLoadedMsg{tasks: tasks}
	}
}

func (d DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashLoadedMsg:
		d.tasks = msg.tasks
		d.loading = false
		d.lastLoad = time.Now()
		// Refresh every 10 seconds.
		return d, tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
			return d.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			d.loading = true
			return d, d.loadCmd()
		}
	}
	return d, nil
}

func (d *DashboardModel) SetSize(w, h int) {
	d.width = w
	d.height = h
}

func (d DashboardModel) View() string {
	if d.loading && len(d.tasks) == 0 {
		return panelStyle.Width(max(20, d.width-2)).Render("Loading tasks...")
	}

	// Summary counts by status band.
	var running, queued, done, interrupted int
	for _, t := range d.tasks {
		switch t.Status {
		case "RUNNING", "PROCESSING":
			running++
		case "REQUESTED", "QUEUED":
			queued++
		case "DONE":
			done++
		case "INTERRUPTED", "STOPPED":
			interrupted++
		}
	}

	cardW := 18
	if d.width >= 100 {
		cardW = 20
	}
	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		renderCounter("Running", running, criticalStyle, cardW),
		renderCounter("Queued", queued, highStyle, cardW),
		renderCounter("Done", done, okStyle, cardW),
		renderCounter("Interrupted", interrupted, mediumStyle, cardW),
	)

	lineLimit := d.height - 12
	if lineLimit < 5 {
		lineLimit = 5
	}
	rows := ""
	for i, t := range d.tasks {
		if i >= lineLimit {
			break
		}
		statusFmt := mutedBadgeStyle.Render(t.Status)
		switch t.Status {
		case "DONE":
			statusFmt = lipgloss.NewStyle().Foreground(bgDark).Background(green).Padding(0, 1).Render(t.Status)
		case "INTERRUPTED", "STOPPED":
			statusFmt = lipgloss.NewStyle().Foreground(bgDark).Background(red).Padding(0, 1).Render(t.Status)
		case "RUNNING", "PROCESSING":
			statusFmt = lipgloss.NewStyle().Foreground(bgDark).Background(blue).Padding(0, 1).Render(t.Status)
		}
		name := truncate(t.Name, 34)
		scanner := truncate(t.ScannerUUID, 12)
		report := truncate(t.CurrentReport, 14)
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(36).Foreground(ink).Render(name),
			lipgloss.NewStyle().Width(14).Foreground(slate).Render(scanner),
			lipgloss.NewStyle().Width(18).Render(statusFmt),
			dimStyle.Render(report),
		)
		rows += line + "\n"
	}

	if len(d.tasks) == 0 {
		rows = dimStyle.Render("No tasks yet. Run: govmd task create\n")
	}

	updated := "never"
	if !d.lastLoad.IsZero() {
		updated = d.lastLoad.Format("15:04:05")
	}
	refreshInfo := lipgloss.JoinHorizontal(lipgloss.Left,
		keycapStyle.Render("r"),
		" ",
		dimStyle.Render("refresh"),
		"   ",
		dimStyle.Render("updated "+updated),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Padding(0, 1).Render(summary),
		panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Recent Tasks"),
				dimStyle.Render("Name                                Scanner       Status            Report"),
				rows,
				refreshInfo,
			),
		),
	)
}

func renderCounter(label string, count int, style lipgloss.Style, width int) string {
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", count)),
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + "  "
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max+1:]
}
