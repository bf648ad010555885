// Package tui is a terminal chat front end for the docuchat API.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docuchat/internal/client"
	"docuchat/internal/model"
	"docuchat/internal/rag"
)

const (
	pollInterval     = time.Second
	DefaultPollLimit = 5 * time.Minute
	requestTimeout   = 2 * time.Minute
	keptTurns        = 6
)

// API is the part of the REST client the TUI drives.
type API interface {
	UploadFile(ctx context.Context, path, collection string) (*client.Accepted, error)
	TaskStatus(ctx context.Context, taskID string) (*client.TaskStatus, error)
	Ask(ctx context.Context, q client.Query) (*client.Answer, error)
	Documents(ctx context.Context) ([]model.Document, error)
	Feedback(ctx context.Context, messageID string, like bool, comment string) error
}

type uploadedMsg struct{ accepted *client.Accepted }
type statusMsg struct{ status *client.TaskStatus }
type pollMsg struct{ taskID string }
type answerMsg struct {
	question string
	answer   *client.Answer
}
type documentsMsg struct{ docs []model.Document }
type feedbackMsg struct{ like bool }
type errMsg struct{ err error }

type Model struct {
	api        API
	collection string
	pollEvery  time.Duration
	pollLimit  time.Duration
	now        func() time.Time

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	lines       []string
	history     []rag.Turn
	document    string
	lastMessage string
	busy        bool
	status      string
	ready       bool

	// pollDeadline ends the wait for the task being polled.
	pollDeadline time.Time
}

type Option func(*Model)

// WithPollLimit bounds how long an upload is watched before the TUI gives
// up waiting. Zero or negative keeps the default.
func WithPollLimit(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.pollLimit = d
		}
	}
}

func New(api API, collection string, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /upload <file.pdf>, /doc <name>, /docs, /like, /dislike"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		api:        api,
		collection: collection,
		pollEvery:  pollInterval,
		pollLimit:  DefaultPollLimit,
		now:        time.Now,
		input:      ti,
		viewport:   viewport.New(0, 0),
		spinner:    sp,
		status:     "Ready.",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, m.spinner.Tick) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-fh-ih-3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" || m.busy {
				return m, nil
			}
			return m.run(line)
		}

	case uploadedMsg:
		m.push(systemStyle.Render(fmt.Sprintf("Uploading %s (task %s)", msg.accepted.Filename, msg.accepted.TaskID)))
		m.status = "Processing " + msg.accepted.Filename
		m.pollDeadline = m.now().Add(m.pollLimit)
		return m, m.poll(msg.accepted.TaskID)

	case pollMsg:
		return m, m.fetchStatus(msg.taskID)

	case statusMsg:
		st := msg.status
		switch {
		case st.IsCompleted:
			m.busy = false
			m.document = st.Filename
			m.status = "Ready."
			m.push(systemStyle.Render(fmt.Sprintf("%s is ready and selected.", st.Filename)))
			return m, nil
		case st.IsError:
			m.busy = false
			m.status = "Ready."
			reason := st.Message
			if st.Error != nil {
				reason = st.Error.Kind + ": " + st.Error.Message
			}
			m.push(errorStyle.Render(fmt.Sprintf("%s failed: %s", st.Filename, reason)))
			return m, nil
		case m.now().After(m.pollDeadline):
			m.busy = false
			m.status = "Ready."
			m.push(errorStyle.Render(fmt.Sprintf(
				"Stopped waiting for %s after %s (task %s, %d%%). The server may still finish it; check /docs later.",
				st.Filename, m.pollLimit, st.ID, st.Progress)))
			return m, nil
		default:
			m.status = fmt.Sprintf("%s %d%% %s", st.Filename, st.Progress, st.Message)
			return m, m.poll(st.ID)
		}

	case answerMsg:
		m.busy = false
		m.status = "Ready."
		m.lastMessage = msg.answer.MessageID
		m.history = append(m.history, rag.Turn{Question: msg.question, Answer: msg.answer.Answer})
		if len(m.history) > keptTurns {
			m.history = m.history[len(m.history)-keptTurns:]
		}
		m.push(renderAnswer(msg.answer))
		return m, nil

	case documentsMsg:
		m.busy = false
		m.status = "Ready."
		m.push(renderDocuments(msg.docs, m.document))
		return m, nil

	case feedbackMsg:
		m.busy = false
		m.status = "Ready."
		verdict := "disliked"
		if msg.like {
			verdict = "liked"
		}
		m.push(systemStyle.Render("Feedback recorded: " + verdict))
		return m, nil

	case errMsg:
		m.busy = false
		m.status = "Ready."
		m.push(errorStyle.Render("Error: " + msg.err.Error()))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	doc := "all documents"
	if m.document != "" {
		doc = m.document
	}
	header := titleStyle.Render("docuchat") + "  " + mutedStyle.Render("document: "+doc)
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

// run interprets one input line as a command or a question.
func (m Model) run(line string) (tea.Model, tea.Cmd) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/upload":
		if arg == "" {
			m.push(errorStyle.Render("usage: /upload <file.pdf>"))
			return m, nil
		}
		m.busy = true
		m.status = "Uploading " + arg
		return m, m.upload(arg)
	case "/doc":
		m.document = arg
		m.history = nil
		if arg == "" {
			m.push(systemStyle.Render("Searching all documents."))
		} else {
			m.push(systemStyle.Render("Selected " + arg + "."))
		}
		return m, nil
	case "/docs":
		m.busy = true
		m.status = "Loading documents"
		return m, m.documents()
	case "/like", "/dislike":
		if m.lastMessage == "" {
			m.push(errorStyle.Render("No answer to rate yet."))
			return m, nil
		}
		m.busy = true
		return m, m.feedback(m.lastMessage, cmd == "/like", arg)
	}
	if strings.HasPrefix(cmd, "/") {
		m.push(errorStyle.Render("unknown command " + cmd))
		return m, nil
	}

	m.busy = true
	m.status = "Thinking"
	m.push(questionStyle.Render("You: ") + line)
	return m, m.ask(line)
}

func (m *Model) push(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Model) refresh() {
	if len(m.lines) == 0 {
		m.viewport.SetContent(mutedStyle.Render("Upload a PDF with /upload, then ask about it."))
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.lines, "\n\n")))
	m.viewport.GotoBottom()
}

func (m Model) upload(path string) tea.Cmd {
	api, collection := m.api, m.collection
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		acc, err := api.UploadFile(ctx, path, collection)
		if err != nil {
			return errMsg{err}
		}
		return uploadedMsg{acc}
	}
}

func (m Model) poll(taskID string) tea.Cmd {
	return tea.Tick(m.pollEvery, func(time.Time) tea.Msg { return pollMsg{taskID} })
}

func (m Model) fetchStatus(taskID string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := api.TaskStatus(ctx, taskID)
		if err != nil {
			return errMsg{err}
		}
		return statusMsg{st}
	}
}

func (m Model) ask(question string) tea.Cmd {
	api := m.api
	q := client.Query{
		Question:   question,
		Document:   m.document,
		Collection: m.collection,
		History:    append([]rag.Turn(nil), m.history...),
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ans, err := api.Ask(ctx, q)
		if err != nil {
			return errMsg{err}
		}
		return answerMsg{question: question, answer: ans}
	}
}

func (m Model) documents() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		docs, err := api.Documents(ctx)
		if err != nil {
			return errMsg{err}
		}
		return documentsMsg{docs}
	}
}

func (m Model) feedback(messageID string, like bool, comment string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := api.Feedback(ctx, messageID, like, comment); err != nil {
			return errMsg{err}
		}
		return feedbackMsg{like}
	}
}

func renderAnswer(a *client.Answer) string {
	var b strings.Builder
	b.WriteString(answerStyle.Render("Assistant: "))
	b.WriteString(a.Answer)
	if !a.ContextFound {
		b.WriteString("\n" + mutedStyle.Render(rag.NoContextNote))
	}
	for i, s := range a.Sources {
		b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("[%d] %s p.%d", i+1, s.Document, s.Page)))
	}
	return b.String()
}

func renderDocuments(docs []model.Document, selected string) string {
	if len(docs) == 0 {
		return systemStyle.Render("No documents yet.")
	}
	var b strings.Builder
	b.WriteString(systemStyle.Render("Documents:"))
	for _, d := range docs {
		marker := "  "
		if d.Filename == selected {
			marker = "* "
		}
		b.WriteString(fmt.Sprintf("\n%s%s  %d pages, %d chunks, %s", marker, d.Filename, d.PageCount, d.ChunkCount, d.Collection))
	}
	return b.String()
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	systemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	questionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	answerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
