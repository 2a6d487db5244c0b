// chatcli is a terminal client for the diet coaching chat service. It
// resolves the room shared with a counterpart, streams realtime messages and
// sends from a single-line composer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dietchat-service/client"
	"dietchat-service/internal/models"
)

var (
	programRef *tea.Program
	programMu  sync.Mutex
)

func sendToProgram(msg tea.Msg) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type snapshotMsg []models.Message

type channelStateMsg client.State

type sendResultMsg struct{ err error }

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	mineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	theirsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type chatModel struct {
	controller *client.Controller
	roomID     int
	userID     int

	input    textinput.Model
	messages []models.Message
	status   string
	height   int
}

func newChatModel(controller *client.Controller, roomID, userID int) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 2000
	ti.Prompt = "> "
	ti.Focus()

	return chatModel{
		controller: controller,
		roomID:     roomID,
		userID:     userID,
		input:      ti,
		messages:   controller.Messages(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case snapshotMsg:
		m.messages = msg
		return m, nil

	case channelStateMsg:
		switch client.State(msg) {
		case client.StateOpen:
			m.status = ""
		case client.StateBackoff:
			m.status = "reconnecting..."
		case client.StateFailed:
			m.status = "connection lost, restart to reconnect"
		}
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.status = "send failed: " + msg.err.Error()
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.controller.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			content := m.input.Value()
			m.input.Reset()
			return m, sendCmd(m.controller, content)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func sendCmd(controller *client.Controller, content string) tea.Cmd {
	return func() tea.Msg {
		return sendResultMsg{err: controller.Send(context.Background(), content)}
	}
}

func (m chatModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("room %d", m.roomID)))
	b.WriteString("\n\n")

	visible := m.messages
	if m.height > 8 && len(visible) > m.height-6 {
		visible = visible[len(visible)-(m.height-6):]
	}
	for _, msg := range visible {
		b.WriteString(renderMessage(msg, m.userID))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(metaStyle.Render("enter: send  esc: quit"))
	return b.String()
}

func renderMessage(msg models.Message, userID int) string {
	who := "them"
	style := theirsStyle
	if msg.SenderID == userID {
		who = "you"
		style = mineStyle
	}

	text := msg.Content
	if msg.Image != "" {
		text = strings.TrimSpace(text + " [image " + msg.Image + "]")
	}
	if msg.File != "" {
		text = strings.TrimSpace(text + " [file " + msg.File + "]")
	}

	stamp := metaStyle.Render(msg.CreatedAt.Local().Format("15:04"))
	return stamp + " " + style.Render(who+": "+text)
}

func main() {
	baseURL := getEnv("CHAT_API_URL", "http://localhost:8083")
	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		log.Fatal("CHAT_TOKEN must be set")
	}
	userID, err := strconv.Atoi(os.Getenv("CHAT_USER_ID"))
	if err != nil {
		log.Fatal("CHAT_USER_ID must be a numeric user id")
	}
	counterpartID, err := strconv.Atoi(os.Getenv("CHAT_COUNTERPART_ID"))
	if err != nil {
		log.Fatal("CHAT_COUNTERPART_ID must be a numeric user id")
	}

	session := client.NewMemorySession(token, userID)
	gateway := client.NewGateway(baseURL, session, nil)

	room, err := client.NewResolver(gateway, session).ResolveRoom(context.Background(), counterpartID)
	if err != nil {
		log.Fatalf("resolve room: %v", err)
	}

	controller := client.NewController(client.ControllerConfig{
		RoomID:  room.ID,
		Session: session,
		Gateway: gateway,
		BaseURL: baseURL,
		OnUpdate: func(snapshot []models.Message) {
			sendToProgram(snapshotMsg(snapshot))
		},
		OnChannelState: func(state client.State) {
			sendToProgram(channelStateMsg(state))
		},
	})
	if err := controller.Open(context.Background()); err != nil {
		log.Fatalf("open room %d: %v", room.ID, err)
	}
	defer controller.Close()

	p := tea.NewProgram(newChatModel(controller, room.ID, userID), tea.WithAltScreen())
	programMu.Lock()
	programRef = p
	programMu.Unlock()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
