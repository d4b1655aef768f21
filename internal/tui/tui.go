package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	ToolPath = iota
	LicenseServerEndpoint
	LicenseServerUsername
	LicenseServerPassword
	LicenseServerProfile
	S3Bucket
	AMQPDSN
)

type field struct {
	label    string
	width    int
	password bool
}

var fields = []field{
	ToolPath:              {label: "Encrypt Tool", width: 100},
	LicenseServerEndpoint: {label: "License Server", width: 100},
	LicenseServerUsername: {label: "License Username", width: 40},
	LicenseServerPassword: {label: "License Password", width: 40, password: true},
	LicenseServerProfile:  {label: "LCP Profile", width: 20},
	S3Bucket:              {label: "S3 Bucket", width: 40},
	AMQPDSN:               {label: "AMQP DSN", width: 100},
}

type (
	errMsg error
)

const (
	hotPink  = lipgloss.Color("#FF06B7")
	darkGray = lipgloss.Color("#767676")
	red      = lipgloss.Color("#FF4040")
)

var (
	inputStyle    = lipgloss.NewStyle().Foreground(hotPink)
	continueStyle = lipgloss.NewStyle().Foreground(darkGray)
	errorStyle    = lipgloss.NewStyle().Foreground(red)
)

type Model struct {
	Inputs  []textinput.Model
	focused int
	err     error
	Quit    bool
}

// InitialModel builds the form. values pre-fills inputs by index and may be
// shorter than the number of fields.
func InitialModel(values ...string) Model {
	inputs := make([]textinput.Model, len(fields))
	for i, f := range fields {
		inputs[i] = textinput.New()
		inputs[i].Placeholder = f.label
		inputs[i].CharLimit = 256
		inputs[i].Width = f.width
		if f.password {
			inputs[i].EchoMode = textinput.EchoPassword
			inputs[i].EchoCharacter = '•'
		}
		if i < len(values) {
			inputs[i].SetValue(values[i])
		}
	}
	inputs[0].Focus()

	return Model{
		Inputs: inputs,
	}
}

// Value returns the trimmed content of input i.
func (m Model) Value(i int) string {
	return strings.TrimSpace(m.Inputs[i].Value())
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd = make([]tea.Cmd, len(m.Inputs))
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if m.focused == len(m.Inputs)-1 {
				return m, tea.Quit
			}
			m.nextInput()
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quit = true
			return m, tea.Quit
		case tea.KeyShiftTab, tea.KeyCtrlP:
			m.prevInput()
		case tea.KeyTab, tea.KeyCtrlN:
			m.nextInput()
		}
		for i := range m.Inputs {
			m.Inputs[i].Blur()
		}
		m.Inputs[m.focused].Focus()

	// We handle errors just like any other message
	case errMsg:
		m.err = msg
		return m, nil
	}

	for i := range m.Inputs {
		m.Inputs[i], cmds[i] = m.Inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString("\n")
	for i, f := range fields {
		b.WriteString(" ")
		b.WriteString(inputStyle.Width(24).Render(f.label))
		b.WriteString("  ")
		b.WriteString(m.Inputs[i].View())
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n ")
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n ")
	b.WriteString(continueStyle.Render("Submit ->"))
	b.WriteString("\n\n")
	return b.String()
}

// nextInput focuses the next input field
func (m *Model) nextInput() {
	m.focused = (m.focused + 1) % len(m.Inputs)
}

// prevInput focuses the previous input field
func (m *Model) prevInput() {
	m.focused--
	// Wrap around
	if m.focused < 0 {
		m.focused = len(m.Inputs) - 1
	}
}
