package crosscheck

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/danpilch/idleprobe/pkg/episode"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	validStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	suspectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Result bundles everything one cross-check run produced.
type Result struct {
	Validations []ValidationResult `json:"validations"`
	Sanity      []SanityResult     `json:"sanity"`
}

// Failed reports whether any CPU conflicts or any sanity check failed.
func (r Result) Failed() bool {
	for _, v := range r.Validations {
		if v.Status == StatusConflict {
			return true
		}
	}
	for _, s := range r.Sanity {
		if !s.Passed {
			return true
		}
	}
	return false
}

// Run validates one drained batch. kernel may be nil.
func Run(v *Validator, episodes []episode.Episode, kernel map[int]KernelIdle) Result {
	return Result{
		Validations: v.Check(episodes, kernel),
		Sanity:      RunSanityChecks(episodes),
	}
}

func statusLabel(s ValidationStatus) string {
	switch s {
	case StatusConflict:
		return conflictStyle.Render("CONFLICT")
	case StatusSuspect:
		return suspectStyle.Render("SUSPECT")
	}
	return validStyle.Render("VALID")
}

// Report writes the result as styled tables.
func Report(w io.Writer, r Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Idle Time Cross-Check"))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("═", 60)))

	if len(r.Validations) > 0 {
		rows := make([][]string, 0, len(r.Validations))
		for _, v := range r.Validations {
			names := make([]string, len(v.Sources))
			for i, s := range v.Sources {
				names[i] = fmt.Sprintf("%s=%.1f", s.Name, s.Value)
			}
			rows = append(rows, []string{
				v.Metric,
				strconv.Itoa(v.Episodes),
				strconv.Itoa(v.Disagreements),
				fmt.Sprintf("%.1f", v.Consensus),
				fmt.Sprintf("%.1f%%", v.MaxDeviation),
				statusLabel(v.Status),
				strings.Join(names, ", "),
			})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(dimStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Headers("METRIC", "EPISODES", "OFF >1 TICK", "CONSENSUS (ms)", "MAX DEV", "STATUS", "SOURCES").
			Rows(rows...)
		fmt.Fprintln(w, t)
	}

	if len(r.Sanity) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Sanity Checks"))
		failed := 0
		for _, s := range r.Sanity {
			icon := passStyle.Render("PASS")
			if !s.Passed {
				icon = failStyle.Render("FAIL")
				failed++
			}
			fmt.Fprintf(w, "  [%s] %-34s %s\n", icon, s.Check, dimStyle.Render(s.Details))
		}
		fmt.Fprintln(w)
		if failed == 0 {
			fmt.Fprintf(w, "  %s\n", passStyle.Render(fmt.Sprintf("All %d sanity checks passed.", len(r.Sanity))))
		} else {
			fmt.Fprintf(w, "  %s\n", failStyle.Render(fmt.Sprintf("%d of %d sanity checks failed.", failed, len(r.Sanity))))
		}
	}
}

// ReportJSON writes the result as indented JSON.
func ReportJSON(w io.Writer, r Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
