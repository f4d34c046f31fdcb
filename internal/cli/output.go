// Package cli provides output helpers for the dressapi command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/syncer"
	"github.com/nomdn/dress-api/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D96C9E"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8FA3"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type painter struct{ color bool }

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Banner returns the startup banner, styled when w is a terminal.
func Banner(w io.Writer, version, addr string) string {
	p := painter{color: IsTerminal(w)}
	return fmt.Sprintf("%s %s\n%s %s\n",
		p.paint(titleStyle, "dress-api"), version,
		p.paint(labelStyle, "listening on"), addr)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, r := range response.Results {
		fmt.Fprintf(w, "%3d. %-40s %s (score %.3f)\n", r.Rank, utils.Truncate(r.Path, 40), strings.Join(r.Authors, ", "), r.Score)
	}
	return nil
}

// WriteBuild writes one ledger entry.
func WriteBuild(w io.Writer, b *models.Build, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, b)
	}
	p := painter{color: IsTerminal(w)}
	writeBuildLine(w, p, b)
	return nil
}

// WriteBuilds writes ledger entries newest first.
func WriteBuilds(w io.Writer, builds []*models.Build, format OutputFormat) error {
	if format == OutputJSON {
		if builds == nil {
			builds = []*models.Build{}
		}
		return writeJSON(w, builds)
	}
	if len(builds) == 0 {
		fmt.Fprintln(w, "No builds recorded")
		return nil
	}
	p := painter{color: IsTerminal(w)}
	for _, b := range builds {
		writeBuildLine(w, p, b)
	}
	return nil
}

func writeBuildLine(w io.Writer, p painter, b *models.Build) {
	status := b.Status
	switch b.Status {
	case models.BuildSucceeded:
		status = p.paint(okStyle, status)
	case models.BuildFailed:
		status = p.paint(errStyle, status)
	}
	duration := "-"
	if b.FinishedAt != nil {
		duration = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "%s  %-9s %-8s %-8s %s  indexed=%d skipped=%d failed=%d\n",
		b.ID, status, b.Trigger, duration, b.StartedAt.Format(time.RFC3339),
		b.Stats.Indexed, b.Stats.Skipped, b.Stats.Failed)
	if b.Error != "" {
		fmt.Fprintf(w, "    %s %s\n", p.paint(errStyle, "error:"), b.Error)
	}
}

// WriteStatus writes a service status summary.
func WriteStatus(w io.Writer, st *syncer.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	p := painter{color: IsTerminal(w)}
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", p.paint(labelStyle, fmt.Sprintf("%-12s", label+":")), value)
	}
	fmt.Fprintln(w, p.paint(titleStyle, "dress-api status"))
	row("Mode", st.Mode)
	row("Files", humanize.Comma(int64(st.Files)))
	row("Authors", humanize.Comma(int64(st.Authors)))
	if st.BuildID != "" {
		row("Build", st.BuildID)
	}
	if st.BuiltAt != nil {
		row("Built", fmt.Sprintf("%s (%s)", st.BuiltAt.Format(time.RFC3339), humanize.Time(*st.BuiltAt)))
	}
	if st.Head != "" {
		row("Head", utils.Truncate(st.Head, 12))
	}
	if st.Disk != nil {
		row("Index size", fmt.Sprintf("%s in %d generations", humanize.Bytes(uint64(st.Disk.IndexBytes)), st.Disk.Generations))
		row("Ledger size", humanize.Bytes(uint64(st.Disk.LedgerBytes)))
	}
	if st.LastBuild != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.paint(titleStyle, "Last build"))
		writeBuildLine(w, p, st.LastBuild)
	}
	return nil
}
