package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/lore-mcp/internal/store"
	"github.com/xiy/lore-mcp/pkg/types"
)

type tickMsg time.Time
type dashboardMsg struct {
	stats       store.Stats
	transitions []store.TransitionLog
	entities    []store.RecentEntity
	err         error
	duration    time.Duration
}

type dashboardStore interface {
	Stats(ctx context.Context) (store.Stats, error)
	RecentTransitions(ctx context.Context, limit int) ([]store.TransitionLog, error)
	RecentEntities(ctx context.Context, limit int) ([]store.RecentEntity, error)
}

type model struct {
	ctx              context.Context
	st               dashboardStore
	stats            store.Stats
	transitions      []store.TransitionLog
	entities         []store.RecentEntity
	lastErr          error
	lastTick         time.Time
	logLines         []string
	maxLogs          int
	transitionsLimit int
	entitiesLimit    int
	width            int
	height           int
}

// Run starts a lightweight local admin dashboard.
func Run(ctx context.Context, st dashboardStore) error {
	m := model{
		ctx:              ctx,
		st:               st,
		maxLogs:          10,
		transitionsLimit: 8,
		entitiesLimit:    8,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.transitionsLimit, m.entitiesLimit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.transitionsLimit, m.entitiesLimit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.transitions = msg.transitions
			m.entities = msg.entities
			m = m.appendLog(fmt.Sprintf(
				"refresh ok total=%d compressed=%d transitions=%d entities=%d (%s)",
				msg.stats.Total,
				msg.stats.Compressed,
				len(msg.transitions),
				len(msg.entities),
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("lore-mcp admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	statsBody := m.renderStats()
	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Tiers", statsBody, paneWidth, paneHeight),
		renderPane("General Logs", logBody, paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("Recent Transitions", formatTransitionPane(m.transitions), paneWidth, paneHeight),
		renderPane("Recent Entities", formatRecentEntitiesPane(m.entities), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
	)
}

func (m model) renderStats() string {
	lines := []string{
		fmt.Sprintf("Total entities:  %d", m.stats.Total),
		fmt.Sprintf("Compressed:      %d", m.stats.Compressed),
	}
	for _, tier := range types.Tiers {
		lines = append(lines, fmt.Sprintf("%-8s         %d", string(tier)+":", m.stats.PerTier[tier]))
	}
	lines = append(lines, "", "Last refresh:    "+formatTime(m.lastTick))
	body := strings.Join(lines, "\n")
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore, transLimit, entLimit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		s, err := st.Stats(ctx)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		transitions, err := st.RecentTransitions(ctx, transLimit)
		if err != nil {
			return dashboardMsg{stats: s, err: err, duration: time.Since(start)}
		}

		entities, err := st.RecentEntities(ctx, entLimit)
		if err != nil {
			return dashboardMsg{stats: s, transitions: transitions, err: err, duration: time.Since(start)}
		}

		return dashboardMsg{
			stats:       s,
			transitions: transitions,
			entities:    entities,
			duration:    time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatTransitionPane(rows []store.TransitionLog) string {
	if len(rows) == 0 {
		return "(no tier transitions yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		dir := fmt.Sprintf("%s→%s", row.OldTier, row.NewTier)
		line := fmt.Sprintf(
			"[%s] %-12s %-18s",
			formatClock(row.CreatedAt),
			dir,
			truncateText(row.EntityID, 18),
		)
		if row.CompressionRatio != nil {
			line += fmt.Sprintf(" r=%.2f", *row.CompressionRatio)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatRecentEntitiesPane(rows []store.RecentEntity) string {
	if len(rows) == 0 {
		return "(no entities yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := fmt.Sprintf(
			"[%s] %-6s %-10s %-18s tok=%d acc=%d",
			formatClock(row.LastAccessedAt),
			row.Tier,
			truncateText(string(row.Kind), 10),
			truncateText(row.ID, 18),
			row.TokenCount,
			row.AccessCount,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
