package lib

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model is the live dashboard over one Interface's tables, styled after the
// teacher's display.go (box-drawing rule, fixed column widths, truncate /
// formatDuration helpers reused near-verbatim) and wired through
// charmbracelet/bubbletea + lipgloss, the stack the teacher's main.go wires
// to but whose TUI model file was absent from the retrieved copy.
type Model struct {
	ifc      *Interface
	stats    *Stats
	refresh  time.Duration
	width    int
	headerSt lipgloss.Style
	ruleSt   lipgloss.Style
}

func NewModel(ifc *Interface, stats *Stats, refresh time.Duration) Model {
	return Model{
		ifc:      ifc,
		stats:    stats,
		refresh:  refresh,
		width:    100,
		headerSt: lipgloss.NewStyle().Bold(true),
		ruleSt:   lipgloss.NewStyle().Faint(true),
	}
}

type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	rule := strings.Repeat("─", min(m.width, tableWidth))

	fmt.Fprintf(&b, "%s\n", m.headerSt.Render(fmt.Sprintf("ndsec dashboard — role=%s, updated=%s", roleName(m.ifc.cfg.Role), time.Now().Format("15:04:05"))))
	b.WriteString(m.ruleSt.Render(rule) + "\n")

	b.WriteString(m.headerSt.Render("Addresses") + "\n")
	for _, a := range m.ifc.Addresses.All() {
		fmt.Fprintf(&b, "  %-40s type=%-8d state=%-10s infinite=%v\n", truncate(a.IP.String(), 40), a.Type, stateName(a.State), a.Infinite)
	}

	b.WriteString(m.headerSt.Render("Default routers") + "\n")
	now := time.Now()
	if m.ifc.clock != nil {
		now = m.ifc.clock.Now()
	}
	for _, d := range m.ifc.DefaultRouters.All() {
		fmt.Fprintf(&b, "  %-40s ttl=%s\n", truncate(d.Address.String(), 40), formatDuration(d.Deadline.Sub(now)))
	}

	b.WriteString(m.headerSt.Render("Neighbors") + "\n")
	for _, n := range m.ifc.Neighbors.All() {
		fmt.Fprintf(&b, "  %-40s ll=%-17s state=%-10s router=%v\n", truncate(n.IP.String(), 40), n.LLAddr, neighborStateName(n.State), n.IsRouter)
	}

	if m.ifc.Registrations != nil {
		b.WriteString(m.headerSt.Render("Registrations") + "\n")
		for _, r := range m.ifc.Registrations.All() {
			fmt.Fprintf(&b, "  %-40s eui64=%x state=%-20s ttl=%s\n",
				truncate(r.Address.String(), 40), r.EUI64, regStateName(r.State), formatDuration(r.Lifetime.Sub(now)))
		}
	}

	if m.stats != nil {
		b.WriteString(m.headerSt.Render("Traffic (window " + formatDuration(m.stats.Window()) + ")") + "\n")
		for _, s := range m.stats.GetStats() {
			fmt.Fprintf(&b, "  %-40s total=%d\n", truncate(s.Address, 40), s.Total)
		}
	}

	b.WriteString(m.ruleSt.Render(rule) + "\n")
	b.WriteString("Press q to exit\n")
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func stateName(s AddrState) string {
	switch s {
	case StateTentative:
		return "tentative"
	case StatePreferred:
		return "preferred"
	case StateDeprecated:
		return "deprecated"
	default:
		return "?"
	}
}

func neighborStateName(s ReachState) string {
	switch s {
	case NeighborStale:
		return "stale"
	case NeighborDelay:
		return "delay"
	case NeighborProbe:
		return "probe"
	case NeighborReachable:
		return "reachable"
	case NeighborIncomplete:
		return "incomplete"
	default:
		return "?"
	}
}

func regStateName(s RegState) string {
	switch s {
	case RegTentative:
		return "tentative"
	case RegRegistered:
		return "registered"
	case RegToBeUnregistered:
		return "to-be-unregistered"
	case RegGarbage:
		return "garbage"
	default:
		return "?"
	}
}
