// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cvra/canlink/pkg/rangelog"
)

// rangeMsg delivers a received range to the TUI
type rangeMsg rangelog.Record

type rangeTickMsg time.Time

// anchorState is the latest measurement seen for one anchor
type anchorState struct {
	last  rangelog.Record
	count int
	min   float32
	max   float32
}

// rangeModel shows one table row per anchor
type rangeModel struct {
	connInfo string
	anchor   uint16
	anchors  map[uint16]*anchorState
	total    int
	started  time.Time
	table    table.Model
	width    int
	quitting bool
}

func newRangeModel(connInfo string, anchor uint16) rangeModel {
	columns := []table.Column{
		{Title: "Anchor", Width: 8},
		{Title: "Range (m)", Width: 10},
		{Title: "Min", Width: 8},
		{Title: "Max", Width: 8},
		{Title: "Count", Width: 8},
		{Title: "Beacon", Width: 7},
		{Title: "Timestamp (us)", Width: 16},
		{Title: "Age", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return rangeModel{
		connInfo: connInfo,
		anchor:   anchor,
		anchors:  make(map[uint16]*anchorState),
		started:  time.Now(),
		table:    t,
		width:    80,
	}
}

func (m rangeModel) Init() tea.Cmd {
	return rangeTickCmd()
}

func rangeTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return rangeTickMsg(t)
	})
}

func (m rangeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetHeight(max(msg.Height-8, 3))

	case rangeTickMsg:
		m.table.SetRows(m.rows(time.Time(msg)))
		return m, rangeTickCmd()

	case rangeMsg:
		m.record(rangelog.Record(msg))
		m.table.SetRows(m.rows(time.Now()))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *rangeModel) record(r rangelog.Record) {
	m.total++
	st, ok := m.anchors[r.AnchorAddr]
	if !ok {
		st = &anchorState{min: r.Range, max: r.Range}
		m.anchors[r.AnchorAddr] = st
	}
	st.last = r
	st.count++
	st.min = min(st.min, r.Range)
	st.max = max(st.max, r.Range)
}

// rows renders anchors in address order
func (m rangeModel) rows(now time.Time) []table.Row {
	addrs := make([]uint16, 0, len(m.anchors))
	for addr := range m.anchors {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	rows := make([]table.Row, 0, len(addrs))
	for _, addr := range addrs {
		st := m.anchors[addr]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", addr),
			fmt.Sprintf("%.3f", st.last.Range),
			fmt.Sprintf("%.3f", st.min),
			fmt.Sprintf("%.3f", st.max),
			fmt.Sprintf("%d", st.count),
			fmt.Sprintf("%d", st.last.Source),
			fmt.Sprintf("%d", st.last.Timestamp),
			formatAge(now.Sub(st.last.Received)),
		})
	}
	return rows
}

func formatAge(d time.Duration) string {
	if d < time.Second {
		return "now"
	}
	return d.Truncate(time.Second).String()
}

func (m rangeModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240"))

	filter := "all anchors"
	if m.anchor != 0 {
		filter = fmt.Sprintf("anchor %d only", m.anchor)
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("CANLINK - UWB RANGES"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Press 'q' to quit", m.connInfo, filter)))
	s.WriteString("\n\n")

	elapsed := time.Since(m.started).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(m.total) / elapsed
	}
	s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Ranges:"), statsValueStyle.Render(fmt.Sprintf("%d", m.total)),
		statsLabelStyle.Render("Anchors:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.anchors))),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", rate)),
	))

	if len(m.anchors) == 0 {
		s.WriteString(headerStyle.Render("Waiting for ranges..."))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")
	return s.String()
}
