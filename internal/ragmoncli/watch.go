package ragmoncli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/dashboard"
	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/sse"
	"github.com/oremus-labs/ragmon/internal/stream"
)

const (
	watchRefresh     = 250 * time.Millisecond
	watchDefaultRows = 20
	// header, summary, column titles, blank line and footer
	watchChromeLines = 5
	watchInitRows    = 3
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// liveFeed is what the watch view reads from; *stream.Adapter satisfies it.
type liveFeed interface {
	Events() []events.StreamEvent
	Status() stream.Status
	Paused() bool
	TogglePause() bool
}

// initFeed serves the INIT pane from the shared debug ring.
type initFeed interface {
	DebugEvents(tag string, limit int) []events.StreamEvent
}

type refreshMsg struct{}

type watchModel struct {
	feed   liveFeed
	boots  initFeed
	source string
	now    func() time.Time

	width  int
	height int

	events []events.StreamEvent
	inits  []events.StreamEvent
	status stream.Status
	paused bool
}

func newWatchModel(feed liveFeed, source string, now func() time.Time) watchModel {
	if now == nil {
		now = time.Now
	}
	return watchModel{feed: feed, source: source, now: now}.sync()
}

// withInits adds the INIT pane fed by boots.
func (m watchModel) withInits(boots initFeed) watchModel {
	m.boots = boots
	return m.sync()
}

func refreshCmd() tea.Cmd {
	return tea.Tick(watchRefresh, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

func (m watchModel) sync() watchModel {
	m.events = m.feed.Events()
	m.status = m.feed.Status()
	m.paused = m.feed.Paused()
	if m.boots != nil {
		m.inits = m.boots.DebugEvents(events.TagInit, watchInitRows)
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return refreshCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case refreshMsg:
		return m.sync(), refreshCmd()
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
	case tea.KeyMsg:
		switch typed.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "space", "p":
			m.feed.TogglePause()
			return m.sync(), nil
		}
	}
	return m, nil
}

func (m watchModel) initLines() int {
	if len(m.inits) == 0 {
		return 0
	}
	return len(m.inits) + 1
}

func (m watchModel) rows() int {
	chrome := watchChromeLines + m.initLines()
	if m.height <= chrome {
		return watchDefaultRows
	}
	return m.height - chrome
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	summary := dashboard.Summarize(m.events)
	fmt.Fprintf(&b, "events %d  errors %d  processing %d  apps %d\n",
		summary.Total, summary.Errors, summary.Processing, summary.ActiveApps)
	if len(m.inits) > 0 {
		b.WriteString(titleStyle.Render("recent " + events.TagInit))
		b.WriteString("\n")
		for _, evt := range m.inits {
			fmt.Fprintf(&b, "  %-16s  %-12s  %s\n",
				truncate(orDash(evt.App), 16),
				truncate(orDash(evt.InstanceID), 12),
				relativeTime(evt.Time(), m.now()))
		}
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-8s  %-16s  %-10s  %-14s  %s", "TIME", "APP", "STATUS", "EVENT", "MESSAGE")))
	b.WriteString("\n")

	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("waiting for events…"))
		b.WriteString("\n")
	}
	rows := m.rows()
	for i := len(m.events) - 1; i >= 0 && rows > 0; i-- {
		b.WriteString(m.row(m.events[i]))
		b.WriteString("\n")
		rows--
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space pause/resume · q quit"))
	return b.String()
}

func (m watchModel) header() string {
	indicator := liveStyle.Render("● live")
	if !m.status.Connected {
		indicator = offlineStyle.Render("● offline (" + m.status.Reason.String() + ")")
	}
	parts := []string{titleStyle.Render("ragmon watch"), indicator}
	if m.paused {
		parts = append(parts, pausedStyle.Render("[paused]"))
	}
	if m.source != "" {
		parts = append(parts, dimStyle.Render(m.source))
	}
	if n := len(m.events); n > 0 {
		parts = append(parts, dimStyle.Render("last event "+relativeTime(m.events[n-1].Time(), m.now())))
	}
	return strings.Join(parts, "  ")
}

func (m watchModel) row(evt events.StreamEvent) string {
	status := fmt.Sprintf("%-10s", truncate(orDash(evt.Status), 10))
	switch strings.ToLower(evt.Status) {
	case "error":
		status = errorStyle.Render(status)
	case "processing", "running":
		status = busyStyle.Render(status)
	}
	message := evt.Message
	if message == "" && evt.CurrentFile != "" {
		message = evt.CurrentFile
	}
	line := fmt.Sprintf("%-8s  %-16s  %s  %-14s  %s",
		evt.Time().Format("15:04:05"),
		truncate(orDash(evt.App), 16),
		status,
		truncate(orDash(evt.Event), 14),
		message,
	)
	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(line)
	}
	return line
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live event stream",
	Run: func(cmd *cobra.Command, args []string) {
		client, ctx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		seed, _ := cmd.Flags().GetBool("seed")
		verbose, _ := cmd.Flags().GetBool("verbose")

		manager := streamManager(verbose)
		defer manager.StopAll()
		adapter, boots := mountWatchFeeds(manager, client.StreamURL(), ctx.credentials())
		defer adapter.Unmount()
		defer boots.Unmount()

		if seed {
			history, err := client.RecentEvents(commandContext(cmd))
			if err != nil {
				printErrorLine("warning: could not load recent events: %v", err)
			} else {
				adapter.Seed(history)
			}
		}

		model := newWatchModel(adapter, ctx.Server, nil).withInits(boots)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(commandContext(cmd)))
		if _, err := program.Run(); err != nil && commandContext(cmd).Err() == nil {
			exitWithError(cmd, fmt.Errorf("watch failed: %w", err))
		}
	},
}

// mountWatchFeeds mounts the live view and the INIT pane as two consumers of
// one connection.
func mountWatchFeeds(manager *stream.Manager, url string, creds sse.Credentials) (live, boots *stream.Adapter) {
	live = stream.Mount(manager, url, stream.AdapterOptions{Credentials: creds})
	boots = stream.Mount(manager, url, stream.AdapterOptions{Credentials: creds, BufferSize: watchInitRows})
	return live, boots
}

func init() {
	watchCmd.Flags().Bool("seed", true, "Load retained events before following the stream")
	watchCmd.Flags().BoolP("verbose", "v", false, "Log connection transitions to stderr")
}
