package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airframesio/sales-pipeline/cmd/pipeline"
)

const maxLogLines = 10

type stageStatus int

const (
	stagePending stageStatus = iota
	stageRunning
	stageRetrying
	stageDone
	stageFailed
)

type stageRow struct {
	stage       pipeline.Stage
	status      stageStatus
	attempt     int
	maxAttempts int
	duration    time.Duration
	lastErr     string
}

type progressModel struct {
	pipelineName string
	bucket       string
	table        string
	runID        string
	stages       []stageRow
	messages     []string
	spinner      spinner.Model
	overall      progress.Model
	startTime    time.Time
	width        int
	cancel       context.CancelFunc
	cancelling   bool
	finished     bool
	report       *pipeline.Report
	runErr       error
}

// stageEventMsg carries a runner event into the view
type stageEventMsg pipeline.Event

// logLineMsg carries one formatted log record
type logLineMsg string

// runDoneMsg is sent once the runner returns
type runDoneMsg struct {
	report *pipeline.Report
	err    error
}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)
)

func newProgressModel(cfg *Config, runID string, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	overall := progress.New(
		progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
		progress.WithWidth(60),
	)

	rows := make([]stageRow, len(pipeline.Stages))
	for i, stage := range pipeline.Stages {
		rows[i] = stageRow{stage: stage, maxAttempts: cfg.Retry.Attempts}
	}

	return progressModel{
		pipelineName: cfg.PipelineName,
		bucket:       cfg.S3.Bucket,
		table:        cfg.Database.Table,
		runID:        runID,
		stages:       rows,
		spinner:      s,
		overall:      overall,
		startTime:    time.Now(),
		cancel:       cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = max(msg.Width-10, 10)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stageEventMsg:
		return m.handleStageEvent(pipeline.Event(msg)), nil
	case logLineMsg:
		return m.addMessage(string(msg)), nil
	case runDoneMsg:
		m.finished = true
		m.report = msg.report
		m.runErr = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "ctrl+c" && msg.String() != "q" {
		return m, nil
	}
	if m.cancelling {
		// Second interrupt leaves without waiting for the stage to finish
		return m, tea.Quit
	}
	m.cancelling = true
	if m.cancel != nil {
		m.cancel()
	}
	return m.addMessage("⚠️  Cancelling after the current stage (press again to quit now)"), nil
}

func (m progressModel) stageIndex(stage pipeline.Stage) int {
	for i, row := range m.stages {
		if row.stage == stage {
			return i
		}
	}
	return -1
}

func (m progressModel) handleStageEvent(e pipeline.Event) progressModel {
	if e.RunID != "" {
		m.runID = e.RunID
	}
	i := m.stageIndex(e.Stage)
	if i < 0 {
		return m
	}

	// Copy so earlier model values are not mutated through the shared slice
	rows := append([]stageRow(nil), m.stages...)
	row := &rows[i]

	switch e.Type {
	case pipeline.EventStageStarted:
		row.status = stageRunning
		row.attempt = e.Attempt
		row.maxAttempts = e.MaxAttempts
	case pipeline.EventAttemptFailed:
		row.status = stageRetrying
		row.duration = e.Duration
		if e.Err != nil {
			row.lastErr = e.Err.Error()
		}
	case pipeline.EventStageSucceeded:
		row.status = stageDone
		row.duration = e.Duration
		row.lastErr = ""
	case pipeline.EventStageFailed:
		row.status = stageFailed
		if e.Err != nil {
			row.lastErr = e.Err.Error()
		}
	}

	m.stages = rows
	return m
}

func (m progressModel) addMessage(line string) progressModel {
	messages := append(append([]string(nil), m.messages...), line)
	if len(messages) > maxLogLines {
		messages = messages[len(messages)-maxLogLines:]
	}
	m.messages = messages
	return m
}

func (m progressModel) completedStages() int {
	n := 0
	for _, row := range m.stages {
		if row.status == stageDone {
			n++
		}
	}
	return n
}

// renderHeader renders the run banner
func (m progressModel) renderHeader() []string {
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7CCB")).Bold(true)
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))

	return []string{
		"",
		"   " + titleStyle.Render("📊 Sales Pipeline") + " " + infoStyle.Render(m.pipelineName),
		"   " + infoStyle.Render(fmt.Sprintf("s3://%s → %s   run %s", m.bucket, m.table, m.runID)),
		"",
	}
}

func (m progressModel) renderStage(row stageRow) string {
	name := fmt.Sprintf("%-10s", row.stage)
	switch row.status {
	case stageRunning:
		return stageStyle.Render(fmt.Sprintf("   %s %s attempt %d/%d", m.spinner.View(), name, row.attempt, row.maxAttempts))
	case stageRetrying:
		return failedStyle.Render(fmt.Sprintf("   ↻ %s attempt %d/%d failed: %s", name, row.attempt, row.maxAttempts, row.lastErr))
	case stageDone:
		return stageStyle.Render(fmt.Sprintf("   ✅ %s %s", name, row.duration.Round(time.Millisecond)))
	case stageFailed:
		return failedStyle.Render(fmt.Sprintf("   ❌ %s %s", name, row.lastErr))
	}
	return pendingStyle.Render("   ·  " + name)
}

// renderMessages renders the log tail
func (m progressModel) renderMessages() []string {
	sections := []string{helpStyle.Render("   Log:")}
	if len(m.messages) == 0 {
		return append(sections, "     (waiting for operations...)")
	}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}
	return sections
}

// renderSeparator renders a horizontal separator
func (m progressModel) renderSeparator() []string {
	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = m.width - 6
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	return []string{"", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), ""}
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}

	sections := m.renderHeader()
	sections = append(sections, tableHeaderStyle.Render("   Stages"), "")
	for _, row := range m.stages {
		sections = append(sections, m.renderStage(row))
	}

	done := m.completedStages()
	sections = append(sections, "")
	sections = append(sections, fmt.Sprintf("   %d/%d stages  %s elapsed", done, len(m.stages), time.Since(m.startTime).Round(time.Second)))
	sections = append(sections, "   "+m.overall.ViewAs(float64(done)/float64(len(m.stages))))

	sections = append(sections, m.renderSeparator()...)
	sections = append(sections, m.renderMessages()...)

	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to cancel"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
