package main

import (
	"fmt"
	"io"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/vital"
)

const (
	LogLevelOptionName = "log-level"
	TimezoneOptionName = "tz"
	TypeOptionName     = "type"
	NameOptionName     = "name"
	OutOptionName      = "out"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	logLevel string
	timezone string
}

func (o *globalOptions) location() (*time.Location, error) {
	if o.timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", o.timezone, err)
	}
	return loc, nil
}

func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "vitaltool",
		Short:        "Inspect and export vital recordings",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(cmd.ErrOrStderr(), opts.logLevel)
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newTableCommand("tracks", "List track metadata as CSV"))
	cmd.AddCommand(newTableCommand("devices", "List devices as CSV"))
	cmd.AddCommand(newTableCommand("validity", "Report in-range sample counts as CSV"))
	cmd.AddCommand(newExportCommand(opts))
	cmd.PersistentFlags().StringVar(&opts.logLevel, LogLevelOptionName, "", fmt.Sprintf("Log level. %s", logging.HelpLevels))
	cmd.PersistentFlags().StringVar(&opts.timezone, TimezoneOptionName, "", "IANA timezone for printed times. Defaults to UTC")
	return cmd
}

func openRecording(path string) (*vital.Recording, error) {
	rec, err := vital.Open(path, vital.WithLogPrefix("[vitaltool]"))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return rec, nil
}
