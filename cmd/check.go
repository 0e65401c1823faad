package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/camwatch/internal/config"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/monitor"
	"github.com/spf13/cobra"
)

// CreateCheckConfigCmd creates the check-config command, which validates a
// cameras file and prints the effective settings of every camera.
func CreateCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [cameras.toml]",
		Short: "Validate a cameras file",
		Long:  `Loads the cameras file with [defaults] merged in and reports every invalid camera. Exits non-zero on errors.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "cameras.toml"
			if len(args) == 1 {
				path = args[0]
			}
			cams, err := config.LoadCameras(path)
			if err != nil {
				cmd.SilenceUsage = true
				return fmt.Errorf("%s: %w", path, err)
			}
			printCameras(cmd.OutOrStdout(), path, cams)
			return nil
		},
	}
}

func printCameras(w io.Writer, path string, cams []monitor.CameraConfig) {
	if len(cams) == 0 {
		fmt.Fprintf(w, "%s: no enabled cameras\n", path)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tURL\tDECODE\tMONITOR HZ\tDEBOUNCE\tFLOOR\tCOOLDOWN")
	for _, c := range cams {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%g\t%d\t%.2f\t%s\n",
			c.ID, c.Name, media.RedactURL(c.Stream.URL),
			c.Decoder.Width, c.Decoder.Height,
			c.Stream.MonitoringHz, c.Diagnostics.FreezeDebounceFrames,
			c.QualityFloor, c.NotificationCooldown)
	}
	tw.Flush()
	fmt.Fprintf(w, "%s: %d camera(s) OK\n", path, len(cams))
}
