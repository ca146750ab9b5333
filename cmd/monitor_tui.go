// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusMeterList = iota
	focusAddressInput
)

// Where a meter entry came from
const (
	sourceConfig = "config"
	sourceScan   = "scan"
	sourceManual = "manual"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// meterEntry is one meter in the list with its last exchange
type meterEntry struct {
	target   config.Target
	source   string
	ident    string
	status   string
	failed   bool
	lastRead time.Time
	packet   *meterbus.Packet
	alarm    bool
}

// Implement list.Item interface
func (e meterEntry) Title() string { return e.target.String() }
func (e meterEntry) Description() string {
	if e.status == "" {
		return e.source
	}
	return fmt.Sprintf("%s | %s", e.source, e.status)
}
func (e meterEntry) FilterValue() string { return e.target.Name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	mgr      *meterManager
	connInfo string

	// Meters
	meters    []*meterEntry
	meterList list.Model

	// Operations
	spinner  spinner.Model
	pending  int
	scanning bool

	// Periodic reads
	refresh     time.Duration
	autoRefresh bool
	lastRefresh time.Time

	// Monitoring (reused from tui.go patterns)
	stats         meterbus.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// Input
	addrInput    textinput.Model
	focusedField int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type readResultMsg struct {
	target   config.Target
	packet   *meterbus.Packet
	err      error
	alarm    bool
	duration time.Duration
}

type probeResultMsg struct {
	target   config.Target
	err      error
	duration time.Duration
}

type meterFoundMsg struct {
	event meterbus.MeterEvent
}

type startScanMsg struct{}

type scanDoneMsg struct {
	found    int
	err      error
	duration time.Duration
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(mgr *meterManager, connInfo string, targets []config.Target, refresh time.Duration) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "address or meter name"
	ti.CharLimit = 32
	ti.Width = 24

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	meterList := list.New([]list.Item{}, delegate, 36, 12)
	meterList.Title = "Meters"
	meterList.SetShowStatusBar(false)
	meterList.SetShowHelp(false)
	meterList.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	m := monitorModel{
		mgr:           mgr,
		connInfo:      connInfo,
		meterList:     meterList,
		spinner:       sp,
		refresh:       refresh,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		addrInput:     ti,
		focusedField:  focusMeterList,
		width:         80,
		height:        24,
	}
	for _, t := range targets {
		m.meters = append(m.meters, &meterEntry{target: t, source: sourceConfig})
	}
	m.refreshList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.meterList.SetSize(36, max(6, m.height-16))

	case monitorTickMsg:
		if m.mgr != nil {
			m.stats = m.mgr.session.master.Stats()
		}
		m.stats.CalculateRates()
		cmds := []tea.Cmd{monitorTickCmd()}
		if m.autoRefresh && m.pending == 0 && time.Since(m.lastRefresh) >= m.refresh {
			cmds = append(cmds, m.readAll())
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		// Let the tick chain die while idle
		if m.pending == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startScanMsg:
		return m, m.startScan()

	case readResultMsg:
		m.pending--
		m.applyRead(msg)

	case probeResultMsg:
		m.pending--
		e := m.entry(msg.target)
		if msg.err != nil {
			e.status = "no answer"
			e.failed = true
			m.addLogEntry(fmt.Sprintf("Probe %s: %v", msg.target, msg.err), true)
		} else {
			e.status = "acknowledged"
			e.failed = false
			m.addLogEntry(fmt.Sprintf("Probe %s: ACK in %v", msg.target, msg.duration.Round(time.Millisecond)), false)
		}
		m.refreshList()

	case meterFoundMsg:
		m.applyFound(msg.event)

	case scanDoneMsg:
		m.pending--
		m.scanning = false
		switch {
		case msg.err != nil && !errors.Is(msg.err, meterbus.ErrTimeout):
			m.addLogEntry(fmt.Sprintf("Scan aborted: %v", msg.err), true)
		case msg.err != nil:
			m.addLogEntry(fmt.Sprintf("Scan stopped: %v", msg.err), true)
		default:
			m.addLogEntry(fmt.Sprintf("Scan complete: %d meter(s) in %v", msg.found, msg.duration.Round(time.Second)), false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		if m.focusedField == focusMeterList {
			m.focusedField = focusAddressInput
			m.addrInput.Focus()
		} else {
			m.focusedField = focusMeterList
			m.addrInput.Blur()
		}
		return m, nil
	}

	if m.focusedField == focusAddressInput {
		if msg.String() == "enter" {
			return m.submitAddress()
		}
		var cmd tea.Cmd
		m.addrInput, cmd = m.addrInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		if e := m.selected(); e != nil {
			return m, m.start(m.mgr.read(e.target, false))
		}

	case "a":
		if e := m.selected(); e != nil {
			return m, m.start(m.mgr.read(e.target, true))
		}

	case "p":
		if e := m.selected(); e != nil {
			return m, m.start(m.mgr.probe(e.target))
		}

	case "s":
		return m, m.startScan()

	case "f":
		m.autoRefresh = !m.autoRefresh
		if m.autoRefresh {
			m.addLogEntry(fmt.Sprintf("Reading all meters every %v", m.refresh), false)
			m.lastRefresh = time.Time{}
		} else {
			m.addLogEntry("Periodic reading stopped", false)
		}

	case "R":
		m.mgr.session.master.ResetStats()
		m.stats = m.mgr.session.master.Stats()
		m.addLogEntry("Statistics reset", false)

	default:
		var cmd tea.Cmd
		m.meterList, cmd = m.meterList.Update(msg)
		return m, cmd
	}

	return m, nil
}

// submitAddress adds the entered meter to the list and reads it
func (m monitorModel) submitAddress() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.addrInput.Value())
	if value == "" {
		return m, nil
	}
	target, err := resolveTarget(value)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	m.addrInput.SetValue("")

	e := m.entry(target)
	if e.source == "" {
		e.source = sourceManual
	}
	m.refreshList()
	m.selectEntry(e)
	return m, m.start(m.mgr.read(target, false))
}

//////////////////////////////////////////////////////////////
// Operations
//////////////////////////////////////////////////////////////

// start runs op and keeps the spinner going while operations are pending
func (m *monitorModel) start(op tea.Cmd) tea.Cmd {
	m.pending++
	if m.pending == 1 {
		return tea.Batch(op, m.spinner.Tick)
	}
	return op
}

func (m *monitorModel) startScan() tea.Cmd {
	if m.scanning {
		m.addLogEntry("Scan already running", true)
		return nil
	}
	m.scanning = true
	m.addLogEntry(fmt.Sprintf("Scanning addresses 0-%d", meterbus.AddressMaxDevice), false)
	return m.start(m.mgr.scan())
}

// readAll reads every meter in the list
func (m *monitorModel) readAll() tea.Cmd {
	m.lastRefresh = time.Now()
	cmds := make([]tea.Cmd, 0, len(m.meters))
	for _, e := range m.meters {
		cmds = append(cmds, m.start(m.mgr.read(e.target, false)))
	}
	return tea.Batch(cmds...)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) applyRead(msg readResultMsg) {
	e := m.entry(msg.target)
	kind := "Read"
	if msg.alarm {
		kind = "Alarm"
	}
	if msg.err != nil {
		e.status = "failed"
		e.failed = true
		m.addLogEntry(fmt.Sprintf("%s %s: %v", kind, msg.target, msg.err), true)
		m.refreshList()
		return
	}

	e.packet = msg.packet
	e.alarm = msg.alarm
	e.lastRead = time.Now()
	e.failed = false
	e.ident = describeMeter(msg.packet)
	e.status = fmt.Sprintf("%d bytes", len(msg.packet.Data))
	m.addLogEntry(fmt.Sprintf("%s %s: %s in %v", kind, msg.target, msg.packet.CI, msg.duration.Round(time.Millisecond)), false)
	m.refreshList()
}

// applyFound merges a scan result into the list. A configured meter at the
// same primary address keeps its name.
func (m *monitorModel) applyFound(ev meterbus.MeterEvent) {
	var e *meterEntry
	for _, existing := range m.meters {
		if existing.target.Secondary == nil && existing.target.Primary == ev.Address {
			e = existing
			break
		}
	}
	if e == nil {
		e = &meterEntry{
			target: config.Target{Name: ev.Address.String(), Primary: ev.Address},
			source: sourceScan,
		}
		m.meters = append(m.meters, e)
	}

	packet := ev.Frame.Packet()
	e.packet = packet
	e.alarm = false
	e.lastRead = time.Now()
	e.failed = false
	e.ident = describeMeter(packet)
	e.status = "found"
	m.addLogEntry(fmt.Sprintf("FOUND %s: %s", ev.Address, e.ident), false)
	m.refreshList()
}

// entry returns the list entry for target, adding it if needed
func (m *monitorModel) entry(target config.Target) *meterEntry {
	key := target.String()
	for _, e := range m.meters {
		if e.target.String() == key {
			return e
		}
	}
	e := &meterEntry{target: target}
	m.meters = append(m.meters, e)
	return e
}

func (m *monitorModel) selected() *meterEntry {
	idx := m.meterList.Index()
	if idx < 0 || idx >= len(m.meters) {
		return nil
	}
	return m.meters[idx]
}

func (m *monitorModel) selectEntry(e *meterEntry) {
	for i, existing := range m.meters {
		if existing == e {
			m.meterList.Select(i)
			return
		}
	}
}

func (m *monitorModel) refreshList() {
	items := make([]list.Item, len(m.meters))
	for i, e := range m.meters {
		items[i] = *e
	}
	m.meterList.SetItems(items)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
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

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("MBUSTAT MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | enter=read a=alarm p=probe s=scan f=periodic q=quit", m.connInfo)))
	s.WriteString("\n")
	if m.pending > 0 {
		s.WriteString(fmt.Sprintf(" %s %s", m.spinner.View(), warningStyle.Render(fmt.Sprintf("%d operation(s) running", m.pending))))
	}
	if m.autoRefresh {
		s.WriteString(fmt.Sprintf(" %s %s", statsLabelStyle.Render("Periodic:"), statsValueStyle.Render(m.refresh.String())))
	}
	s.WriteString("\n\n")

	// Layout: left panel (meters + input) | right panel (reading)
	leftWidth := 36
	rightWidth := max(20, m.width-leftWidth-6)

	listStyle := boxStyle.Width(leftWidth)
	inputStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusMeterList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	} else {
		inputStyle = focusedBoxStyle.Width(leftWidth)
	}
	var listView string
	if len(m.meters) == 0 {
		listView = headerStyle.Render("No meters - press s to scan\nor tab to enter an address")
	} else {
		listView = m.meterList.View()
	}
	left := lipgloss.JoinVertical(lipgloss.Left,
		listStyle.Render(listView),
		inputStyle.Render(m.addrInput.View()),
	)

	right := boxStyle.Width(rightWidth).Render(m.renderReading(statsLabelStyle, statsValueStyle, errorStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderReading(statsLabelStyle, statsValueStyle, errorStyle, headerStyle lipgloss.Style) string {
	e := m.selected()
	if e == nil {
		return headerStyle.Render("No meter selected")
	}

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Meter:"), e.target))
	if e.ident != "" {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Device:"), statsValueStyle.Render(e.ident)))
	}
	if e.failed {
		s.WriteString(errorStyle.Render("Last request failed"))
		s.WriteString("\n")
	}
	if e.packet == nil {
		s.WriteString(headerStyle.Render("No data yet - press enter to read"))
		return s.String()
	}

	kind := "User data"
	if e.alarm {
		kind = "Alarm data"
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render(kind+":"),
		headerStyle.Render(formatAge(time.Since(e.lastRead)))))
	s.WriteString(meterbus.FormatPacket(e.packet))
	return strings.TrimSuffix(s.String(), "\n")
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	totalErrors := m.stats.ChecksumErrors + m.stats.MalformedFrame
	var validPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
	}

	errorValue := statsValueStyle.Render("0")
	if totalErrors > 0 {
		errorValue = errorStyle.Render(fmt.Sprintf("%d", totalErrors))
	}
	timeoutValue := statsValueStyle.Render("0")
	if m.stats.Timeouts > 0 {
		timeoutValue = errorStyle.Render(fmt.Sprintf("%d", m.stats.Timeouts))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Requests)),
		statsLabelStyle.Render("Timeouts:"), timeoutValue,
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errorValue,
	)

	return boxStyle.Width(max(20, m.width-4)).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 6
	startIdx := max(0, len(m.errorLog)-logHeight)

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(max(20, m.width-4)).Render(strings.TrimSuffix(s.String(), "\n"))
}
