package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/chat"
)

// Conversation is the part of chat.Session the TUI drives.
type Conversation interface {
	RoomID() string
	Send(text string) error
	Events() <-chan chat.Event
}

type chatEventMsg chat.Event

type chatClosedMsg struct{}

type countdownTickMsg time.Time

// lowTime is when the countdown turns to a warning.
const lowTime = 2 * time.Minute

// ChatModel is the bubbletea model for one room.
type ChatModel struct {
	conv     Conversation
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	lines    []string
	status   string
	paired   bool
	ended    bool
	ready    bool
	quitting bool

	expiresAt time.Time
	ticking   bool
	now       func() time.Time
}

// NewChatModel builds the model; events start flowing on Init.
func NewChatModel(conv Conversation) *ChatModel {
	in := textinput.New()
	in.Placeholder = "Waiting for your peer..."
	in.Prompt = "› "
	in.CharLimit = 4000
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &ChatModel{
		conv:     conv,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  s,
		status:   "Waiting for peer to join",
		now:      time.Now,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen())
}

func (m *ChatModel) listen() tea.Cmd {
	events := m.conv.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return chatClosedMsg{}
		}
		return chatEventMsg(ev)
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()

	case chatEventMsg:
		m.apply(chat.Event(msg))
		cmds = append(cmds, m.listen())
		if !m.expiresAt.IsZero() && !m.ticking {
			m.ticking = true
			cmds = append(cmds, countdownTick())
		}

	case countdownTickMsg:
		if m.ended || !m.now().Before(m.expiresAt) {
			m.ticking = false
		} else {
			cmds = append(cmds, countdownTick())
		}

	case chatClosedMsg:
		m.ended = true
		m.status = "Disconnected"
		m.input.Blur()

	case spinner.TickMsg:
		if !m.paired && !m.ended {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.ended {
		return
	}
	if err := m.conv.Send(text); err != nil {
		m.notice(ErrorStyle.Render(fmt.Sprintf("%s %v", IconError, err)))
		return
	}
	m.input.Reset()
	m.line(SelfStyle.Render("you"), text, time.Now())
}

func (m *ChatModel) apply(ev chat.Event) {
	switch ev.Kind {
	case chat.EventJoined:
		m.expiresAt = ev.ExpiresAt
	case chat.EventPaired:
		m.paired = true
		m.status = "End-to-end encrypted"
		m.input.Placeholder = "Type a message"
		m.notice(SuccessStyle.Render(IconLock + " Secure channel established"))
	case chat.EventMessage:
		m.line(PeerStyle.Render("peer"), ev.Text, ev.At)
	case chat.EventPeerLeft:
		m.status = "Peer left"
		m.notice(WarningStyle.Render(IconPeer + " Your peer left the room"))
	case chat.EventRoomFull:
		m.ended = true
		m.status = "Room is full"
		m.notice(ErrorStyle.Render(IconError + " This room already has two people"))
	case chat.EventRoomExpired:
		m.ended = true
		m.status = "Room expired"
		m.notice(ErrorStyle.Render(IconTime + " This room has expired"))
	case chat.EventReconnected:
		m.notice(WarningStyle.Render(IconConnect + " Reconnected as a new member. Start a new room if your peer can no longer read you."))
	case chat.EventError:
		m.notice(ErrorStyle.Render(fmt.Sprintf("%s %v", IconError, ev.Err)))
	case chat.EventClosed:
		m.ended = true
		m.status = "Disconnected"
	}
}

func (m *ChatModel) line(who, text string, at time.Time) {
	stamp := MutedStyle.Render(at.Format("15:04"))
	m.lines = append(m.lines, fmt.Sprintf("%s %s %s", stamp, who, text))
	m.refresh()
}

func (m *ChatModel) notice(text string) {
	m.lines = append(m.lines, text)
	m.refresh()
}

func (m *ChatModel) refresh() {
	content := strings.Join(m.lines, "\n")
	if m.viewport.Width > 0 {
		content = lipgloss.NewStyle().Width(m.viewport.Width).Render(content)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}

	status := m.status
	if !m.paired && !m.ended {
		status = m.spinner.View() + " " + status
	}
	header := HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.conv.RoomID())) + "  " + MutedStyle.Render(status)
	if countdown := m.countdown(); countdown != "" {
		header += "  " + countdown
	}
	footer := FooterStyle.Render("enter to send · esc to leave")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.input.View(),
		footer,
	)
}

// countdown renders the time left in the room, or "" before the relay has
// reported a deadline.
func (m *ChatModel) countdown() string {
	if m.expiresAt.IsZero() {
		return ""
	}
	left := m.expiresAt.Sub(m.now())
	switch {
	case left <= 0:
		return ErrorStyle.Render(IconTime + " Expired")
	case left < lowTime:
		return WarningStyle.Render(IconTime + " " + FormatRemaining(left))
	default:
		return MutedStyle.Render(IconTime + " " + FormatRemaining(left))
	}
}

func countdownTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return countdownTickMsg(t)
	})
}

// FormatRemaining renders d as m:ss, rounding down to whole seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Transcript returns the rendered conversation lines.
func (m *ChatModel) Transcript() []string {
	return append([]string(nil), m.lines...)
}

// RunChat runs the TUI until the user quits.
func RunChat(conv Conversation) error {
	p := tea.NewProgram(NewChatModel(conv), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
