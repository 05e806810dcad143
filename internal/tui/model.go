package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"labelctl/internal/orchestrator"
	"labelctl/pkg/logging"
)

const (
	defaultRefreshInterval = 2 * time.Second
	fetchTimeout           = 5 * time.Second
	rescanTimeout          = 2 * time.Minute
	maxLogLines            = 200
)

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

// Source provides the data the dashboard renders.
type Source interface {
	Status(ctx context.Context) (orchestrator.Snapshot, error)
	Rescan(ctx context.Context) error
}

// Options configures the dashboard.
type Options struct {
	// RefreshInterval between status polls. Defaults to two seconds.
	RefreshInterval time.Duration
	// Events streams tunnel state changes when the dashboard runs in the daemon.
	Events <-chan orchestrator.TunnelStateChangedEvent
	// Logs streams log entries, see logging.InitForTUI.
	Logs <-chan logging.LogEntry
	// Title is shown in the header.
	Title string
}

type (
	snapshotMsg struct {
		snap orchestrator.Snapshot
		err  error
		// poll marks results of the periodic refresh, which schedule the next one.
		poll bool
	}
	tickMsg       time.Time
	logMsg        logging.LogEntry
	eventMsg      orchestrator.TunnelStateChangedEvent
	rescanDoneMsg struct{ err error }
	copiedMsg     struct {
		url string
		err error
	}
	// channelClosedMsg stops listening on a closed channel.
	channelClosedMsg struct{}
)

type model struct {
	source  Source
	opts    Options
	keys    KeyMap
	spinner spinner.Model

	snap       orchestrator.Snapshot
	loaded     bool
	fetchErr   error
	lastUpdate time.Time
	rescanning bool
	notice     string

	logLines []string
	showLog  bool
	showHelp bool

	width  int
	height int
}

func newModel(source Source, opts Options) *model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.Title == "" {
		opts.Title = "labelctl"
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &model{
		source:  source,
		opts:    opts,
		keys:    DefaultKeyMap(),
		spinner: s,
		showLog: opts.Logs != nil || opts.Events != nil,
	}
}

// Init implements tea.Model.
func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.fetch(true)}
	if m.opts.Logs != nil {
		cmds = append(cmds, listenForLogs(m.opts.Logs))
	}
	if m.opts.Events != nil {
		cmds = append(cmds, listenForEvents(m.opts.Events))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.fetchErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
			m.lastUpdate = time.Now()
		}
		if !msg.poll {
			return m, nil
		}
		return m, tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, m.fetch(true)

	case logMsg:
		m.appendLogLine(formatLogEntry(logging.LogEntry(msg)))
		return m, listenForLogs(m.opts.Logs)

	case eventMsg:
		line := fmt.Sprintf("[%s] tunnel %s: %s -> %s", time.Now().Format("15:04:05"), msg.Provider, msg.OldState, msg.NewState)
		if msg.Error != nil {
			line += fmt.Sprintf(" (%v)", msg.Error)
		}
		m.appendLogLine(line)
		return m, tea.Batch(listenForEvents(m.opts.Events), m.fetch(false))

	case rescanDoneMsg:
		m.rescanning = false
		if msg.err != nil {
			m.notice = errorStyle.Render("Rescan failed: " + msg.err.Error())
		} else {
			m.notice = okStyle.Render("Rescan complete")
		}
		return m, m.fetch(false)

	case copiedMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render("Copy failed: " + msg.err.Error())
		} else {
			m.notice = okStyle.Render("Copied " + msg.url)
		}
		return m, nil

	case channelClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Rescan):
		if m.rescanning {
			return m, nil
		}
		m.rescanning = true
		m.notice = "Rescanning printers..."
		return m, m.rescan()
	case key.Matches(msg, m.keys.Copy):
		url := m.snap.Tunnel.PublicURL
		if url == "" {
			m.notice = warnStyle.Render("No public URL to copy")
			return m, nil
		}
		return m, copyURL(url)
	case key.Matches(msg, m.keys.ToggleLog):
		m.showLog = !m.showLog
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m *model) fetch(poll bool) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := source.Status(ctx)
		return snapshotMsg{snap: snap, err: err, poll: poll}
	}
}

func (m *model) rescan() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), rescanTimeout)
		defer cancel()
		return rescanDoneMsg{err: source.Rescan(ctx)}
	}
}

func copyURL(url string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{url: url, err: clipboardWrite(url)}
	}
}

func listenForLogs(ch <-chan logging.LogEntry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return logMsg(entry)
	}
}

func listenForEvents(ch <-chan orchestrator.TunnelStateChangedEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(event)
	}
}

func formatLogEntry(entry logging.LogEntry) string {
	line := fmt.Sprintf("[%s] %s %s: %s",
		entry.Timestamp.Format("15:04:05"),
		entry.Level,
		entry.Subsystem,
		entry.Message,
	)
	if entry.Err != nil {
		line += fmt.Sprintf(" (%v)", entry.Err)
	}
	return line
}

// appendLogLine appends a line, keeping at most maxLogLines.
func (m *model) appendLogLine(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}
