package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/docchat-sdk-go/docchat"
)

type (
	entryMsg     docchat.Entry
	stateMsg     docchat.StateEvent
	indicatorMsg int
	submitMsg    struct {
		text string
		err  error
	}
)

type noticeLevel int

const (
	levelSuccess noticeLevel = iota
	levelInfo
	levelWarning
	levelError
)

type noticeMsg struct {
	level       noticeLevel
	title       string
	description string
}

// bridge carries session callbacks into the bubbletea update loop.
type bridge struct {
	events chan tea.Msg
	done   chan struct{}
}

func newBridge() *bridge {
	return &bridge{events: make(chan tea.Msg, 64), done: make(chan struct{})}
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.done:
	}
}

func (b *bridge) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.done:
			return nil
		}
	}
}

func (b *bridge) stop() { close(b.done) }

// statusNotifier shows notices on the status line.
type statusNotifier struct{ b *bridge }

func (n statusNotifier) Success(title, description string) {
	n.b.send(noticeMsg{levelSuccess, title, description})
}
func (n statusNotifier) Info(title, description string) {
	n.b.send(noticeMsg{levelInfo, title, description})
}
func (n statusNotifier) Warning(title, description string) {
	n.b.send(noticeMsg{levelWarning, title, description})
}
func (n statusNotifier) Error(title, description string) {
	n.b.send(noticeMsg{levelError, title, description})
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	systemStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	inputStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)

	levelStyles = map[noticeLevel]lipgloss.Style{
		levelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		levelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		levelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		levelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

const (
	headerHeight = 2
	footerHeight = 5
)

type chatModel struct {
	session  *docchat.Coordinator
	bridge   *bridge
	url      string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	entries   []docchat.Entry
	state     docchat.ConnectionState
	indicator int
	notice    *noticeMsg
	ready     bool
}

func newChatModel(session *docchat.Coordinator, b *bridge, url string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about your documents..."
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = mutedStyle

	return chatModel{
		session: session,
		bridge:  b,
		url:     url,
		input:   ti,
		spinner: sp,
		state:   docchat.StateConnecting,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.bridge.next())
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.indicator != 0 {
				return m, nil
			}
			return m, m.submit(m.input.Value())
		}

	case tea.WindowSizeMsg:
		height := msg.Height - headerHeight - footerHeight
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 6
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-4),
		)
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case submitMsg:
		// the entry is already in the transcript, so the text is spent
		if msg.err == nil && m.input.Value() == msg.text {
			m.input.Reset()
		}
		return m, nil

	case entryMsg:
		m.entries = append(m.entries, docchat.Entry(msg))
		m.refresh()
		return m, m.bridge.next()

	case stateMsg:
		m.state = msg.NewState
		return m, m.bridge.next()

	case indicatorMsg:
		m.indicator = int(msg)
		if m.indicator == 0 {
			cmds = append(cmds, m.input.Focus())
		} else {
			m.input.Blur()
		}
		cmds = append(cmds, m.bridge.next())
		return m, tea.Batch(cmds...)

	case noticeMsg:
		m.notice = &msg
		return m, m.bridge.next()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m chatModel) submit(text string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		return submitMsg{text: text, err: session.Submit(context.Background(), text)}
	}
}

// refresh re-renders the transcript and scrolls to the latest entry.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderTranscript(m.entries, m.renderer))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Starting..."
	}

	header := titleStyle.Render("docchat") + " " + mutedStyle.Render(m.url) + "  " + m.connectionView()

	status := ""
	if m.indicator != 0 {
		status = mutedStyle.Render("Waiting for reply" + docchat.WorkingDots(m.indicator))
	} else if m.notice != nil {
		status = renderNotice(*m.notice)
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		status,
		inputStyle.Render(m.input.View()),
		mutedStyle.Render("enter send • esc quit"),
	)
}

func (m chatModel) connectionView() string {
	if m.state == docchat.StateOpen {
		return levelStyles[levelSuccess].Render("● " + m.state.Label())
	}
	return m.spinner.View() + " " + mutedStyle.Render(m.state.Label())
}

func renderNotice(n noticeMsg) string {
	text := n.title
	if n.description != "" {
		text += ": " + n.description
	}
	return levelStyles[n.level].Render(text)
}

func renderTranscript(entries []docchat.Entry, renderer *glamour.TermRenderer) string {
	if len(entries) == 0 {
		return mutedStyle.Render("No messages yet. Ask something about your uploaded documents.")
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderEntry(e, renderer))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderEntry(e docchat.Entry, renderer *glamour.TermRenderer) string {
	stamp := mutedStyle.Render(e.At.Local().Format("15:04"))
	switch e.Sender {
	case docchat.SenderUser:
		return userStyle.Render("You") + " " + stamp + "\n" + e.Text
	case docchat.SenderSystem:
		return systemStyle.Render(e.Text)
	}

	label := peerStyle.Render("Assistant") + " " + stamp
	if e.Late {
		label += " " + systemStyle.Render("(late reply)")
	}
	body := strings.Join(e.Paragraphs(), "\n\n")
	if renderer != nil {
		if out, err := renderer.Render(body); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}
	return label + "\n" + body
}
