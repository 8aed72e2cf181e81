package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/engine/infra/conn"
	"github.com/rapidcrm/crmstore/engine/infra/migrate"
)

// Output format constants
const (
	OutputFormatJSON  = "json"
	OutputFormatTable = "table"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// verdict colors the word only when w is a terminal.
func verdict(w io.Writer, ok bool, yes, no string) string {
	word, style := yes, okStyle
	if !ok {
		word, style = no, failStyle
	}
	if f, isFile := w.(*os.File); isFile && isatty.IsTerminal(f.Fd()) {
		return style.Render(word)
	}
	return word
}

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "format", "f", OutputFormatTable, "Output format (json, table)")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func writeMigrationTable(w io.Writer, status []migrate.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tAPPLIED\tAPPLIED AT")
	for _, s := range status {
		appliedAt := "-"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, s.Version, s.Applied, appliedAt)
	}
	return tw.Flush()
}

func writeHealthTable(w io.Writer, health conn.Health) error {
	fmt.Fprintf(w, "%s (%d/%d connected)\n\n", verdict(w, health.Healthy, "healthy", "unhealthy"),
		health.Details.HealthyConnections, health.Details.TotalConnections)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCONNECTED\tQUERIES\tERRORS")
	for _, c := range health.Details.Connections {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\n", c.ID, c.Name, c.Connected, c.QueryCount, c.ErrorCount)
	}
	return tw.Flush()
}

func writeStatsTable(w io.Writer, stats *dataaccess.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "connections:\t%d (%d active)\n", stats.Connections.TotalConnections, stats.Connections.ActiveConnections)
	fmt.Fprintf(tw, "queries:\t%d\n", stats.Connections.TotalQueries)
	fmt.Fprintf(tw, "errors:\t%d\n\n", stats.Connections.TotalErrors)
	fmt.Fprintln(tw, "TABLE\tROWS")
	names := make([]string, 0, len(stats.Tables))
	for name := range stats.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, stats.Tables[name])
	}
	return tw.Flush()
}
