package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/xtxerr/taucorr/internal/aggregate"
	"github.com/xtxerr/taucorr/internal/correlator"
)

// render writes a table: aligned for a terminal, tab-separated otherwise.
func render(w io.Writer, header []string, rows [][]string) {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tbl := tablewriter.NewWriter(w)
		tbl.SetHeader(header)
		tbl.SetAutoFormatHeaders(false)
		tbl.SetAlignment(tablewriter.ALIGN_RIGHT)
		tbl.AppendBulk(rows)
		tbl.Render()
		return
	}

	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

// correlationTable lays out a correlation table, one row per lag.
func correlationTable(rows []correlator.Row) ([]string, [][]string) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Values))
	}

	header := []string{"tau", "lag", "count"}
	if width == 1 {
		header = append(header, "value")
	} else {
		for k := 0; k < width; k++ {
			header = append(header, fmt.Sprintf("c%d", k))
		}
	}

	out := make([][]string, len(rows))
	for i, r := range rows {
		line := []string{
			formatFloat(r.Tau),
			strconv.FormatInt(r.Lag, 10),
			strconv.FormatUint(r.Count, 10),
		}
		for _, v := range r.Values {
			line = append(line, formatFloat(v))
		}
		out[i] = line
	}
	return header, out
}

// summaryTable lays out observable summaries. Percentile columns appear
// only when some summary carries them.
func summaryTable(results []aggregate.Result) ([]string, [][]string) {
	header := []string{"observable", "component", "count", "min", "max", "avg"}

	var percentiles bool
	for i := range results {
		if results[i].HasPercentiles() {
			percentiles = true
			break
		}
	}
	if percentiles {
		header = append(header, "p50", "p99")
	}

	optional := func(p *float64) string {
		if p == nil {
			return "-"
		}
		return formatFloat(*p)
	}

	out := make([][]string, len(results))
	for i, r := range results {
		line := []string{
			r.Observable,
			strconv.Itoa(r.Component),
			strconv.FormatInt(r.Count, 10),
			formatFloat(r.Min),
			formatFloat(r.Max),
			formatFloat(r.Avg),
		}
		if percentiles {
			line = append(line, optional(r.P50), optional(r.P99))
		}
		out[i] = line
	}
	return header, out
}

// keyValueTable lays out name/value pairs.
func keyValueTable(pairs [][2]string) ([]string, [][]string) {
	out := make([][]string, len(pairs))
	for i, p := range pairs {
		out[i] = []string{p[0], p[1]}
	}
	return []string{"key", "value"}, out
}
