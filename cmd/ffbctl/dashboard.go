package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ffb-runtime/rtstats"
	"github.com/wippyai/ffb-runtime/runtime"
)

const refreshInterval = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// engineView is what the dashboard reads from the runtime.
type engineView interface {
	Status() runtime.Status
	Plugins() []runtime.PluginInfo
	Degrade() runtime.Degrade
	Reload(ctx context.Context) error
}

type dashboardModel struct {
	ctx     context.Context
	rt      engineView
	snaps   <-chan rtstats.Snapshot
	status  runtime.Status
	snap    rtstats.Snapshot
	plugins table.Model
	torque  progress.Model
	notice  string
	err     error
}

type refreshMsg time.Time

type reloadMsg struct{ err error }

func newDashboardModel(ctx context.Context, rt engineView, snaps <-chan rtstats.Snapshot) *dashboardModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Plugin", Width: 20},
			{Title: "Kind", Width: 7},
			{Title: "Calls", Width: 10},
			{Title: "Avg", Width: 10},
			{Title: "State", Width: 12},
		}),
		table.WithHeight(6),
	)
	return &dashboardModel{
		ctx:     ctx,
		rt:      rt,
		snaps:   snaps,
		plugins: t,
		torque:  progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *dashboardModel) Init() tea.Cmd {
	return refresh()
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.notice = "reloading profile..."
			return m, m.reload
		}

	case tea.WindowSizeMsg:
		m.torque.Width = max(20, min(60, msg.Width-30))

	case refreshMsg:
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		m.pull()
		return m, refresh()

	case reloadMsg:
		m.err = msg.err
		m.notice = ""
		if msg.err == nil {
			m.notice = "profile reloaded"
		}
	}
	return m, nil
}

func (m *dashboardModel) reload() tea.Msg {
	return reloadMsg{err: m.rt.Reload(m.ctx)}
}

// pull copies the latest runtime state into the model.
func (m *dashboardModel) pull() {
	m.status = m.rt.Status()
	select {
	case s := <-m.snaps:
		m.snap = s
	default:
	}
	rows := make([]table.Row, 0, 4)
	for _, p := range m.rt.Plugins() {
		state := "active"
		switch {
		case p.Quarantined:
			state = "quarantined"
		case p.Disabled:
			state = "disabled"
		}
		rows = append(rows, table.Row{p.Name, p.Kind, fmt.Sprint(p.Calls), p.AvgTime.String(), state})
	}
	m.plugins.SetRows(rows)
}

func (m *dashboardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FFB Engine"))
	fmt.Fprintf(&b, " tick %d  seq %d  profile %016x\n\n", m.status.Ticks, m.status.Seq, m.status.ConfigHash)

	out := m.status.TorqueOut
	fmt.Fprintf(&b, "%s %s %+6.2f Nm\n", labelStyle.Render("torque "),
		m.torque.ViewAs(float64(out+1)/2), m.status.TorqueNm)
	t := m.status.Telemetry
	fmt.Fprintf(&b, "%s in %+5.2f  angle %+7.1f°  speed %+6.2f rad/s  %d°C\n",
		labelStyle.Render("input  "), t.FfbIn, t.WheelAngleDeg, t.WheelSpeed, int(t.TemperatureC))
	state := okStyle.Render("ok")
	if m.status.Degraded {
		state = warnStyle.Render("degraded (" + m.rt.Degrade().String() + ")")
	}
	if t.HandsOff {
		state += "  " + warnStyle.Render("hands off")
	}
	fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("state  "), state)

	s := m.snap
	fmt.Fprintf(&b, "%s p50 %-9s p99 %-9s max %s\n", labelStyle.Render("jitter "), s.Jitter.P50, s.Jitter.P99, s.Jitter.Max)
	fmt.Fprintf(&b, "%s p50 %-9s p99 %-9s max %s\n", labelStyle.Render("process"), s.ProcessingTime.P50, s.ProcessingTime.P99, s.ProcessingTime.Max)
	fmt.Fprintf(&b, "%s p50 %-9s p99 %-9s max %s\n", labelStyle.Render("hid    "), s.HIDLatency.P50, s.HIDLatency.P99, s.HIDLatency.Max)
	fmt.Fprintf(&b, "%s missed %.3f%%  saturated %.1f%%  faults %d  violations %d\n\n",
		labelStyle.Render("events "), s.MissedTickRate(), s.Counters.TorqueSaturationPercent(),
		s.Counters.PipelineFaults, s.Counters.PluginViolations)

	b.WriteString(m.plugins.View())
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.notice != "" {
		b.WriteString(okStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("r reload profile • q quit"))
	return b.String()
}

func runDashboard(ctx context.Context, rt *runtime.Runtime, snaps <-chan rtstats.Snapshot) error {
	p := tea.NewProgram(newDashboardModel(ctx, rt, snaps), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if stderrors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
