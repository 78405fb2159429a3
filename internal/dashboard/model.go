package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mumutools/mumuctl/internal/cache"
	"github.com/mumutools/mumuctl/internal/instance"
)

// defaultHighlightFor is how long changed rows stay marked when no
// duration is configured.
const defaultHighlightFor = 2 * time.Second

// Model is the Bubble Tea model for the live instance table.
type Model struct {
	refresher Refresher
	reader    Reader
	control   Controller

	snaps      map[int]instance.Snapshot
	order      []int
	selected   int
	changed    map[int]time.Time
	highlight  time.Duration
	refreshing bool
	lastUpdate time.Time
	note       string
	errNote    string

	spinner spinner.Model
	help    help.Model
	keys    watchKeys
	width   int
	height  int
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithRefresher sets the refresher driven by the r key and row actions.
func WithRefresher(r Refresher) ModelOption {
	return func(m *Model) { m.refresher = r }
}

// WithReader sets the snapshot reader used after manual refreshes.
func WithReader(r Reader) ModelOption {
	return func(m *Model) { m.reader = r }
}

// WithController sets the instance controller for launch/shutdown.
func WithController(c Controller) ModelOption {
	return func(m *Model) { m.control = c }
}

// WithHighlightFor sets how long changed rows stay marked.
func WithHighlightFor(d time.Duration) ModelOption {
	return func(m *Model) { m.highlight = d }
}

// NewModel creates a dashboard model with no data loaded yet.
func NewModel(opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		snaps:     make(map[int]instance.Snapshot),
		changed:   make(map[int]time.Time),
		highlight: defaultHighlightFor,
		spinner:   s,
		help:      help.New(),
		keys:      defaultKeys(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init triggers the first refresh and starts the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refreshCmd())
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ChangesMsg:
		m.applySnaps(msg.Snaps)
		m.refreshing = false
		m.errNote = ""
		now := time.Now()
		for idx := range msg.Diff.Added {
			m.changed[idx] = now
		}
		for idx := range msg.Diff.Modified {
			m.changed[idx] = now
		}
		return m, m.expireHighlightCmd(now)

	case RefreshDoneMsg:
		if m.reader != nil {
			snaps, _ := m.reader.GetAll(time.Hour)
			m.applySnaps(snaps)
		}
		m.refreshing = false
		m.errNote = ""
		m.note = ""
		return m, nil

	case RefreshBusyMsg:
		m.refreshing = false
		m.note = "refresh already in progress"
		return m, nil

	case RefreshErrMsg:
		m.refreshing = false
		m.errNote = msg.Err.Error()
		return m, nil

	case ControlDoneMsg:
		if msg.Err != nil {
			m.errNote = fmt.Sprintf("%s %d: %v", msg.Action, msg.Index, msg.Err)
			return m, nil
		}
		m.note = fmt.Sprintf("%s %d requested", msg.Action, msg.Index)
		return m, m.refreshOneCmd(msg.Index)

	case clearHighlightMsg:
		cutoff := msg.at
		for idx, at := range m.changed {
			if !at.After(cutoff) {
				delete(m.changed, idx)
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key messages.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.order)-1 {
			m.selected++
		}
		return m, nil

	case "r":
		if m.refresher == nil {
			return m, nil
		}
		m.refreshing = true
		m.note = ""
		return m, m.refreshCmd()

	case "l":
		return m.controlSelected("launch")

	case "x":
		return m.controlSelected("shutdown")
	}

	return m, nil
}

// controlSelected issues a control action for the row under the cursor.
func (m Model) controlSelected(action string) (tea.Model, tea.Cmd) {
	if m.control == nil || m.selected >= len(m.order) {
		return m, nil
	}
	idx := m.order[m.selected]
	ctl := m.control
	return m, func() tea.Msg {
		err := ctl.Control(context.Background(), []int{idx}, action)
		return ControlDoneMsg{Index: idx, Action: action, Err: err}
	}
}

// refreshCmd runs one manual refresh cycle off the update loop.
func (m Model) refreshCmd() tea.Cmd {
	r := m.refresher
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		err := r.Refresh(context.Background())
		switch {
		case err == nil:
			return RefreshDoneMsg{}
		case errors.Is(err, cache.ErrRefreshInProgress):
			return RefreshBusyMsg{}
		default:
			return RefreshErrMsg{Err: err}
		}
	}
}

// refreshOneCmd refreshes a single instance after a control action.
func (m Model) refreshOneCmd(index int) tea.Cmd {
	r := m.refresher
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		err := r.RefreshOne(context.Background(), index)
		switch {
		case err == nil:
			return RefreshDoneMsg{}
		case errors.Is(err, cache.ErrRefreshInProgress):
			return RefreshBusyMsg{}
		default:
			return RefreshErrMsg{Err: err}
		}
	}
}

// expireHighlightCmd schedules highlight cleanup for marks set at now.
func (m Model) expireHighlightCmd(now time.Time) tea.Cmd {
	return tea.Tick(m.highlight, func(time.Time) tea.Msg {
		return clearHighlightMsg{at: now}
	})
}

// applySnaps replaces the table contents, keeping the cursor on a
// valid row.
func (m *Model) applySnaps(snaps map[int]instance.Snapshot) {
	if snaps == nil {
		snaps = make(map[int]instance.Snapshot)
	}
	m.snaps = snaps
	m.order = instance.SortedIndices(snaps)
	if m.selected >= len(m.order) {
		m.selected = len(m.order) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.lastUpdate = time.Now()
}

// View renders the instance table with a footer status line and help bar.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-5s %-20s %-12s %-6s %-8s %-10s %s",
		"IDX", "NAME", "STATUS", "CPU", "MEM", "DISK", "RUN")))
	b.WriteString("\n")

	if len(m.order) == 0 {
		if m.refreshing {
			b.WriteString(fmt.Sprintf("  %s loading instances...\n", m.spinner.View()))
		} else {
			b.WriteString("  no instances\n")
		}
	}

	for i, idx := range m.order {
		snap := m.snaps[idx]
		line := fmt.Sprintf("  %-5d %-20s %-12s %-6s %-8s %-10s %s",
			snap.Index,
			truncate(snap.Name, 20),
			truncate(snap.Status, 12),
			snap.CPU,
			snap.Memory,
			snap.DiskUsage,
			runningIndicator(snap.Running),
		)

		switch {
		case i == m.selected:
			line = selectedStyle.Render(line)
		case m.isChanged(idx):
			line = changedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// statusLine renders the footer note: spinner, errors, or last update.
func (m Model) statusLine() string {
	switch {
	case m.refreshing:
		return statusLineStyle.Render(fmt.Sprintf("  %s refreshing...", m.spinner.View()))
	case m.errNote != "":
		return errStyle.Render("  " + m.errNote)
	case m.note != "":
		return statusLineStyle.Render("  " + m.note)
	case !m.lastUpdate.IsZero():
		return statusLineStyle.Render("  updated " + m.lastUpdate.Format("15:04:05"))
	default:
		return statusLineStyle.Render("  waiting for first refresh")
	}
}

// isChanged reports whether a row has an unexpired change mark.
func (m Model) isChanged(idx int) bool {
	_, ok := m.changed[idx]
	return ok
}

// Selected returns the index of the row under the cursor, -1 when the
// table is empty.
func (m Model) Selected() int {
	if m.selected >= len(m.order) {
		return -1
	}
	if len(m.order) == 0 {
		return -1
	}
	return m.order[m.selected]
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
