package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/video"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List local video devices and the clip encoder",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := camera.ListVideoDevices("/dev")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(devices) == 0 {
			fmt.Fprintln(out, "No video devices found.")
		} else {
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME\tDRIVER")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Path, orDash(d.Name), orDash(d.Driver))
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		fmt.Fprintln(out)
		printEncoder(out)
		return nil
	},
}

func printEncoder(out io.Writer) {
	ffmpeg, err := video.NewFFmpegWrapper(log)
	if err != nil {
		fmt.Fprintf(out, "Clip encoder: OpenCV VideoWriter (%v)\n", err)
		return
	}

	version, err := ffmpeg.GetVersion()
	if err != nil {
		version = "unknown"
	}

	var accel []string
	hw := ffmpeg.GetHardwareAcceleration()
	if hw.V4L2M2M {
		accel = append(accel, "v4l2m2m")
	}
	if hw.OMX {
		accel = append(accel, "omx")
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "ffmpeg\t%s\n", version)
	fmt.Fprintf(w, "encoder\t%s\n", ffmpeg.GetPreferredEncoder())
	fmt.Fprintf(w, "hardware\t%s\n", orDash(strings.Join(accel, ",")))
	fmt.Fprintf(w, "libx264\t%t\n", ffmpeg.IsCodecAvailable("libx264"))
	w.Flush()
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
