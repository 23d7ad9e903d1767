package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vital-visualizer/backend/internal/vital"
)

func newInfoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Print the header and a summary of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := opts.location()
			if err != nil {
				return err
			}
			rec, err := openRecording(args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "version\t%d\n", rec.Header.Version)
			fmt.Fprintf(tw, "tz bias\t%d min\n", rec.Header.TZBias)
			fmt.Fprintf(tw, "devices\t%d\n", len(rec.Devices))
			fmt.Fprintf(tw, "tracks\t%d\n", len(rec.Tracks))
			fmt.Fprintf(tw, "records\t%d\n", len(rec.Records))
			if start, end, ok := rec.TimeRange(); ok {
				fmt.Fprintf(tw, "start\t%s\n", vital.EpochToTime(start, loc).Format("2006-01-02 15:04:05.000 MST"))
				fmt.Fprintf(tw, "end\t%s\n", vital.EpochToTime(end, loc).Format("2006-01-02 15:04:05.000 MST"))
			}
			if rec.Skipped > 0 {
				fmt.Fprintf(tw, "skipped packets\t%d\n", rec.Skipped)
			}
			if rec.Truncated {
				fmt.Fprintf(tw, "truncated\tyes\n")
			}
			return tw.Flush()
		},
	}
}
