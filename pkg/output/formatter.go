// Package output provides the encodings used to hand drained episodes to readers.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
)

// Format represents the output format type.
type Format string

const (
	// FormatRich is "seq, cpu, durationNs, start.nsec, end.nsec". It is the
	// default and its layout is kept stable for existing consumers.
	FormatRich Format = "rich"
	// FormatCompact is "seq cpu monotonicNs tickNs".
	FormatCompact Format = "compact"
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "json"
	// FormatTable is a styled table for terminals. It is only available for
	// whole batches, not for streaming.
	FormatTable Format = "table"
)

// ParseFormat converts a flag or query value into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatRich, nil
	case FormatRich, FormatCompact, FormatJSON, FormatTable:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want rich, compact, json or table)", s)
}

// Streamable reports whether f can encode one episode per line.
func (f Format) Streamable() bool {
	return f != FormatTable
}

// Record is the JSON line encoding: the full episode plus the derived
// durations and timestamps, so a remote reader can rebuild the episode.
type Record struct {
	episode.Episode
	DurationNs     int64  `json:"duration_ns"`
	TickDurationNs int64  `json:"tick_duration_ns"`
	Start          string `json:"start"`
	End            string `json:"end"`
}

// NewRecord derives the JSON record for ep.
func NewRecord(ep episode.Episode) Record {
	return Record{
		Episode:        ep,
		DurationNs:     ep.DurationNanoseconds(),
		TickDurationNs: ep.TickDurationNanoseconds(),
		Start:          Timestamp(ep.StartWall),
		End:            Timestamp(ep.EndWall()),
	}
}

// DecodeEpisodes reads JSON lines produced by WriteLine until EOF.
func DecodeEpisodes(r io.Reader) ([]episode.Episode, error) {
	var out []episode.Episode
	dec := json.NewDecoder(r)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode episode %d: %w", len(out)+1, err)
		}
		out = append(out, rec.Episode)
	}
}

// WriteLine encodes one episode as a single line. It does not retain ep.
func WriteLine(w io.Writer, f Format, ep episode.Episode) error {
	var err error
	switch f {
	case FormatCompact:
		_, err = fmt.Fprintf(w, "%d %d %d %d\n",
			ep.Sequence, ep.CPU, ep.DurationNanoseconds(), ep.TickDurationNanoseconds())
	case FormatJSON:
		err = json.NewEncoder(w).Encode(NewRecord(ep))
	case FormatRich, "":
		_, err = fmt.Fprintf(w, "%d, %d, %d, %s, %s\n",
			ep.Sequence, ep.CPU, ep.DurationNanoseconds(),
			Timestamp(ep.StartWall), Timestamp(ep.EndWall()))
	default:
		err = fmt.Errorf("format %q cannot encode single lines", f)
	}
	return err
}

// Timestamp renders ts as seconds.nanoseconds with nine fractional digits.
func Timestamp(ts clock.Timespec) string {
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}

// Formatter handles output formatting.
type Formatter struct {
	format Format
	writer io.Writer
}

// NewFormatter creates a new formatter.
func NewFormatter(format Format, writer io.Writer) *Formatter {
	return &Formatter{
		format: format,
		writer: writer,
	}
}

// Render outputs a batch of episodes in the configured format.
func (f *Formatter) Render(episodes []episode.Episode) error {
	if f.format == FormatTable {
		return f.renderTable(episodes)
	}
	for _, ep := range episodes {
		if err := WriteLine(f.writer, f.format, ep); err != nil {
			return err
		}
	}
	return nil
}

// renderTable outputs episodes as a styled table.
func (f *Formatter) renderTable(episodes []episode.Episode) error {
	if len(episodes) == 0 {
		RenderTable(f.writer, "Idle Episodes", nil, nil)
		fmt.Fprintln(f.writer, emptyStyle.Render("No episodes captured since the last drain"))
		return nil
	}

	rows := make([][]string, len(episodes))
	cpus := make(map[int]struct{})
	for i, ep := range episodes {
		cpus[ep.CPU] = struct{}{}
		rows[i] = []string{
			strconv.FormatUint(ep.Sequence, 10),
			strconv.Itoa(ep.CPU),
			ep.Duration().String(),
			strconv.FormatInt(ep.TickDurationNanoseconds(), 10),
			Timestamp(ep.StartWall),
			Timestamp(ep.EndWall()),
		}
	}
	RenderTable(f.writer, "Idle Episodes",
		[]string{"SEQ", "CPU", "DURATION", "TICKS (ns)", "START", "END"}, rows)

	ids := make([]int, 0, len(cpus))
	for cpu := range cpus {
		ids = append(ids, cpu)
	}
	sort.Ints(ids)
	fmt.Fprintf(f.writer, "%d episodes, sequences %d-%d, CPUs %s\n",
		len(episodes), episodes[0].Sequence, episodes[len(episodes)-1].Sequence, joinInts(ids))
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderTable writes a titled table. With no headers only the title is
// written.
func RenderTable(w io.Writer, title string, headers []string, rows [][]string) {
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, strings.Repeat("═", 60))
	if len(headers) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
