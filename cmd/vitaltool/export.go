package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vital-visualizer/backend/internal/export"
	"github.com/vital-visualizer/backend/internal/vital"
)

// newTableCommand renders one whole-recording table to stdout.
func newTableCommand(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := openRecording(args[0])
			if err != nil {
				return err
			}
			return export.Write(cmd.OutOrStdout(), rec, export.Kind(kind))
		},
	}
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var typeName, trackName, outPath string
	cmd := &cobra.Command{
		Use:   "export KIND FILE",
		Short: "Export a table as CSV",
		Long: "Export a table as CSV. KIND is one of tracks, devices, dt, length, validity,\n" +
			"values or wave. values and wave need --name and optionally --type.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(strings.TrimSuffix(args[0], ".csv"))
			if err != nil {
				return err
			}
			if kind.PerTrack() && trackName == "" {
				return fmt.Errorf("export %s needs --%s", kind, NameOptionName)
			}
			rec, err := openRecording(args[1])
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := writeExport(w, rec, kind, typeName, trackName); err != nil {
				return err
			}
			if f, ok := w.(*os.File); ok && outPath != "" {
				return f.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, TypeOptionName, "", "Device type name. Empty matches any device")
	cmd.Flags().StringVar(&trackName, NameOptionName, "", "Track name")
	cmd.Flags().StringVarP(&outPath, OutOptionName, "o", "", "Output file. Defaults to stdout")
	return cmd
}

func writeExport(w io.Writer, rec *vital.Recording, kind export.Kind, typeName, trackName string) error {
	switch kind {
	case export.KindValues:
		return export.WriteValues(w, rec, typeName, trackName)
	case export.KindWave:
		return export.WriteWave(w, rec, typeName, trackName)
	}
	return export.Write(w, rec, kind)
}
