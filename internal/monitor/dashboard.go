// Package monitor renders a live terminal dashboard of a running tcsd.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the bubbletea dashboard model.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	history    map[string][]float64
	err        error
	quitting   bool

	limitProgress progress.Model
}

// Badge colors follow the checker result; cyan marks structure.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling baseURL every interval.
func NewModel(baseURL string, interval time.Duration) Model {
	return Model{
		client:   NewClient(baseURL),
		interval: interval,
		history:  make(map[string][]float64),
		limitProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
}

// machineBadge summarises the machine lifecycle.
func machineBadge(s Snapshot) string {
	switch {
	case !s.State.Started:
		return warningStyle.Render("◌ NOT STARTED")
	case s.State.Stopped:
		return errorStyle.Render("■ STOPPED")
	default:
		return healthyStyle.Render("✓ RUNNING")
	}
}

// checkerBadge shows the last evaluation of a checker.
func checkerBadge(r checker.Reading) string {
	switch {
	case r.Stale:
		return warningStyle.Render("[stale]")
	case !r.Defined:
		return dimStyle.Render("[ ... ]")
	case r.InLimit:
		return healthyStyle.Render("[ in  ]")
	default:
		return errorStyle.Render("[ out ]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := client.Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.client),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		history := make(map[string][]float64, len(snap.Checkers.Checkers))
		for _, st := range snap.Checkers.Checkers {
			h := m.history[st.Name]
			if st.Last.Defined {
				h = appendToHistory(h, st.Last.Mean)
			}
			history[st.Name] = h
		}
		m.history = history
		m.snapshot = snap
		m.lastUpdate = snap.At
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("tcsd Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach tcsd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Is `tcsd run` serving its status port?") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("15:04:05")
	}
	b.WriteString(headerStyle.Render(" tcsd Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s\n",
		machineBadge(m.snapshot),
		dimStyle.Render("Updated:"),
		valueStyle.Render(lastUpdate)))

	b.WriteString("\n" + sectionStyle.Render("┃ Phase") + "\n")
	b.WriteString(labelStyle.Render("  Active: ") +
		valueStyle.Render(FormatPhase(m.snapshot.State.Configuration)) + "\n")
	if c := m.snapshot.State.Constants; c != nil {
		b.WriteString(labelStyle.Render("  Constants: ") +
			valueStyle.Render(fmt.Sprintf("v%d", c.Version)) + " " +
			dimStyle.Render(fmt.Sprintf("%s, loaded %s ago", c.Source, FormatDuration(m.lastUpdate.Sub(c.LoadedAt)))) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Checkers") + "\n")
	if len(m.snapshot.Checkers.Checkers) == 0 {
		b.WriteString(dimStyle.Render("  none registered") + "\n")
	}
	for _, st := range m.snapshot.Checkers.Checkers {
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			checkerBadge(st.Last),
			valueStyle.Render(st.Name),
			dimStyle.Render(st.Selector),
			dimStyle.Render(fmt.Sprintf("%d ticks", st.Ticks))))
		b.WriteString(labelStyle.Render("    Mean: ") +
			valueStyle.Render(FormatMean(st.Last)) + " " +
			dimStyle.Render(FormatLimits(st.Settings)) + "\n")
		if pos, ok := Position(st.Last.Mean, st.Settings); ok && st.Last.Defined {
			b.WriteString(labelStyle.Render("    Range: ") + m.limitProgress.ViewAs(pos) + "\n")
		}
		b.WriteString("    " + createSparkline(m.history[st.Name]) + "\n")
	}
	if m.snapshot.Checkers.AllInLimit {
		b.WriteString(healthyStyle.Render("  all conditions hold") + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
