package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vincentbai/sitetrace-agent/internal/report"
	"github.com/vincentbai/sitetrace-agent/internal/summary"
)

func newSummaryCmd(envFile *string) *cobra.Command {
	var asText bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the current aggregate summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.store.ReadAll(cmd.Context())
			if err != nil {
				return err
			}
			s := summary.Summarize(sessions)
			out := cmd.OutOrStdout()

			if !asText {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			fmt.Fprintf(out, "Sessions:        %s\n", humanize.Comma(int64(s.Sessions)))
			fmt.Fprintf(out, "Avg time:        %s\n", report.FormatDuration(s.AvgTimeOnScreen))
			fmt.Fprintf(out, "Avg scroll:      %d%%\n", s.AvgScrollDepth)
			fmt.Fprintf(out, "Total clicks:    %s\n", humanize.Comma(int64(s.TotalClicks)))
			if saved, ok := a.lastSaved(cmd.Context()); ok {
				fmt.Fprintf(out, "Last saved:      %s\n", humanize.Time(saved))
			}
			fmt.Fprintln(out, "Top sections:")
			for _, sec := range s.TopSections(report.TopN) {
				fmt.Fprintf(out, "  %-20s %s, %d visits\n", sec.ID, report.FormatDuration(sec.Time), sec.Enters)
			}
			fmt.Fprintln(out, "Top interactions:")
			for _, t := range s.TopClickTargets(report.TopN) {
				fmt.Fprintf(out, "  %-40s %s\n", t.Label, humanize.Comma(int64(t.Count)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asText, "text", false, "Print a human-readable digest instead of JSON")
	return cmd
}
