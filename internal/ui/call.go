package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/Tandem/internal/call"
	"github.com/BioHazard786/Tandem/internal/matchmaking"
)

const maxChatLines = 50

// CallController is what the call screen drives.
type CallController interface {
	Transitions() <-chan call.Transition
	State() call.State
	Duration() time.Duration
	ChatMessages() <-chan call.ChatMessage
	SendChat(body string) (call.ChatMessage, error)
	ToggleAudio() bool
	ToggleVideo() bool
	AudioEnabled() bool
	VideoEnabled() bool
	Hangup()
}

type sessionController struct {
	s *call.Session
}

// SessionController adapts a call session for the call screen.
func SessionController(s *call.Session) CallController {
	return sessionController{s: s}
}

func (c sessionController) Transitions() <-chan call.Transition         { return c.s.Machine().Changes() }
func (c sessionController) State() call.State                           { return c.s.Machine().State() }
func (c sessionController) Duration() time.Duration                     { return c.s.Machine().Duration() }
func (c sessionController) ChatMessages() <-chan call.ChatMessage       { return c.s.Chat().Messages() }
func (c sessionController) SendChat(b string) (call.ChatMessage, error) { return c.s.Chat().Send(b) }
func (c sessionController) AudioEnabled() bool                          { return c.s.AudioEnabled() }
func (c sessionController) VideoEnabled() bool                          { return c.s.VideoEnabled() }
func (c sessionController) Hangup()                                     { c.s.Hangup() }

func (c sessionController) ToggleAudio() bool {
	on := !c.s.AudioEnabled()
	c.s.SetAudioEnabled(on)
	return c.s.AudioEnabled()
}

func (c sessionController) ToggleVideo() bool {
	on := !c.s.VideoEnabled()
	c.s.SetVideoEnabled(on)
	return c.s.VideoEnabled()
}

type (
	tickMsg       time.Time
	transitionMsg call.Transition
	callEndedMsg  struct{}
	chatMsg       call.ChatMessage
	hungUpMsg     struct{}
)

type chatLine struct {
	self bool
	body string
	at   time.Time
}

// CallModel is the bubbletea model for an active call.
type CallModel struct {
	ctrl CallController
	room matchmaking.Room
	self string
	peer string

	state    call.State
	duration time.Duration
	audio    bool
	video    bool

	spinner spinner.Model
	input   textinput.Model
	lines   []chatLine
	notice  string

	hangingUp bool
	quitting  bool
	sent      int
	received  int
}

func NewCallModel(ctrl CallController, room matchmaking.Room, self string) *CallModel {
	peer, _ := room.Other(self)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "Say hi…"
	in.Prompt = "> "
	in.CharLimit = 500
	in.Width = 50
	in.Focus()

	return &CallModel{
		ctrl:    ctrl,
		room:    room,
		self:    self,
		peer:    peer,
		state:   ctrl.State(),
		audio:   ctrl.AudioEnabled(),
		video:   ctrl.VideoEnabled(),
		spinner: s,
		input:   in,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		tick(),
		waitTransition(m.ctrl.Transitions()),
		waitChat(m.ctrl.ChatMessages()),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitTransition(ch <-chan call.Transition) tea.Cmd {
	return func() tea.Msg {
		tr, ok := <-ch
		if !ok {
			return callEndedMsg{}
		}
		return transitionMsg(tr)
	}
}

func waitChat(ch <-chan call.ChatMessage) tea.Cmd {
	return func() tea.Msg {
		return chatMsg(<-ch)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.duration = m.ctrl.Duration()
		if m.quitting {
			return m, nil
		}
		return m, tick()

	case transitionMsg:
		m.state = msg.To
		m.duration = m.ctrl.Duration()
		switch msg.To {
		case call.StateConnected:
			m.notice = "Connected"
		case call.StateDisconnected:
			m.notice = "Connection lost, trying to reconnect"
		}
		if msg.To == call.StateEnded {
			return m.end()
		}
		return m, waitTransition(m.ctrl.Transitions())

	case callEndedMsg:
		return m.end()

	case chatMsg:
		m.addLine(chatLine{body: msg.Body, at: msg.SentAt})
		m.received++
		return m, waitChat(m.ctrl.ChatMessages())

	case hungUpMsg:
		return m.end()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		if m.hangingUp {
			return m, nil
		}
		m.hangingUp = true
		m.notice = "Hanging up…"
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.Hangup()
			return hungUpMsg{}
		}

	case "ctrl+a":
		m.audio = m.ctrl.ToggleAudio()
		return m, nil

	case "ctrl+e":
		m.video = m.ctrl.ToggleVideo()
		return m, nil

	case "enter":
		body := strings.TrimSpace(m.input.Value())
		if body == "" {
			return m, nil
		}
		sent, err := m.ctrl.SendChat(body)
		if err != nil {
			m.notice = "Message not sent: " + err.Error()
			return m, nil
		}
		m.input.Reset()
		m.addLine(chatLine{self: true, body: sent.Body, at: sent.SentAt})
		m.sent++
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *CallModel) end() (tea.Model, tea.Cmd) {
	m.state = call.StateEnded
	m.duration = m.ctrl.Duration()
	if m.quitting {
		return m, nil
	}
	m.quitting = true
	return m, tea.Quit
}

func (m *CallModel) addLine(l chatLine) {
	m.lines = append(m.lines, l)
	if len(m.lines) > maxChatLines {
		m.lines = m.lines[len(m.lines)-maxChatLines:]
	}
}

// Summary reports what happened during the call.
func (m *CallModel) Summary() CallSummary {
	return CallSummary{
		RoomID:   m.room.ID,
		Peer:     m.peer,
		Status:   m.state.String(),
		Duration: m.duration,
		Messages: m.sent + m.received,
	}
}

func (m *CallModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s %s  %s %s", IconRoom, TitleStyle.Render(m.room.ID), IconPeer, PeerStyle.Render(m.peer))
	b.WriteString(header + "\n")

	status := stateBadge(m.state)
	if m.state == call.StateConnecting {
		status = m.spinner.View() + " " + status
	}
	media := mediaIcons(m.audio, m.video)
	b.WriteString(fmt.Sprintf("%s  %s %s  %s\n", status, IconTime, FormatDuration(m.duration), media))

	if m.notice != "" {
		b.WriteString(MutedStyle.Render(m.notice) + "\n")
	}

	var chat strings.Builder
	if len(m.lines) == 0 {
		chat.WriteString(MutedStyle.Render(IconChat + " No messages yet"))
	}
	for i, l := range m.lines {
		if i > 0 {
			chat.WriteString("\n")
		}
		who := PeerStyle.Render(m.peer)
		if l.self {
			who = SelfStyle.Render("you")
		}
		chat.WriteString(fmt.Sprintf("%s %s: %s", MutedStyle.Render(l.at.Format("15:04")), who, l.body))
	}
	b.WriteString(CallBoxStyle.Render(chat.String()) + "\n")

	if !m.quitting {
		b.WriteString(m.input.View() + "\n")
		b.WriteString(FooterStyle.Render("enter send • ctrl+a mic • ctrl+e camera • esc hang up"))
	}
	return b.String()
}

func stateBadge(s call.State) string {
	color := Muted
	switch s {
	case call.StateConnecting:
		color = Warning
	case call.StateConnected:
		color = Success
	case call.StateDisconnected, call.StateEnded:
		color = Error
	}
	return BadgeStyle.Background(color).Render(strings.ToUpper(s.String()))
}

func mediaIcons(audio, video bool) string {
	mic, cam := IconMic, IconCamera
	if !audio {
		mic = IconMuted
	}
	if !video {
		cam = IconNoCam
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, mic, " ", cam)
}

// RunCallScreen shows the call screen until the call ends and returns the
// final model.
func RunCallScreen(ctrl CallController, room matchmaking.Room, self string) (*CallModel, error) {
	model := NewCallModel(ctrl, room, self)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return model, err
	}
	if m, ok := final.(*CallModel); ok {
		return m, nil
	}
	return model, nil
}
