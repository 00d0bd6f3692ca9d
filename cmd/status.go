package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/airframesio/sales-pipeline/cmd/pipeline"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Width(14)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575")).
		Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F")).
			Bold(true)
)

// ErrNoStatus is returned when a pipeline has never written a status file
var ErrNoStatus = errors.New("no run recorded for this pipeline")

// runStatus prints the snapshot of the current or last run
func runStatus(out io.Writer, pipelineName string) error {
	info, err := ReadStatus(pipelineName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoStatus, pipelineName)
		}
		return err
	}

	running := false
	if pid, err := ReadPIDFile(pipelineName); err == nil && pid == info.PID {
		running = IsProcessRunning(pid)
	}

	fmt.Fprintln(out, titleStyle.Render("Sales Pipeline: "+info.Pipeline))
	fmt.Fprintln(out)
	for _, line := range statusLines(info, running) {
		fmt.Fprintln(out, labelStyle.Render(line[0])+line[1])
	}
	return nil
}

// statusLines renders the label/value pairs for a snapshot
func statusLines(info *StatusInfo, running bool) [][2]string {
	state := info.State.String()
	switch {
	case running:
		state = infoStyle.Render(state + " (running, pid " + fmt.Sprint(info.PID) + ")")
	case info.State == pipeline.StateSucceeded:
		state = okStyle.Render(state)
	case info.State.Terminal():
		state = errStyle.Render(state)
	default:
		// Non-terminal state with no live owner
		state = errStyle.Render(state + " (process exited)")
	}

	lines := [][2]string{
		{"Run", info.RunID},
		{"State", state},
		{"Started", info.StartTime.Format(time.RFC3339)},
		{"Updated", info.LastUpdate.Format(time.RFC3339)},
		{"Source", "s3://" + info.Bucket},
		{"Table", info.Table},
	}
	if info.Stage != "" {
		stage := string(info.Stage)
		if info.MaxAttempts > 0 {
			stage += fmt.Sprintf(" (attempt %d/%d)", info.Attempt, info.MaxAttempts)
		}
		lines = append(lines, [2]string{"Stage", stage})
	}
	if info.RowsLoaded > 0 {
		lines = append(lines, [2]string{"Rows loaded", fmt.Sprint(info.RowsLoaded)})
	}
	if info.LastError != "" {
		lines = append(lines, [2]string{"Last error", info.LastError})
	}
	return lines
}
