package main

import (
	"fmt"

	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/opencv"
	"github.com/pipatrol/patrol/internal/storage"
	"github.com/spf13/cobra"
)

var captureOutput string

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Grab one frame, identify faces and save the annotated image",
	Long: `Opens the configured camera, reads a single frame and runs the same
detection and identification as the node. Use it to check exposure, framing
and the recognition threshold. Stop the node first; the camera cannot be
shared.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "capture.jpg", "where to write the annotated frame")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	identifier, err := opencv.NewIdentifier(cfg.Face, log.Named("face"))
	if err != nil {
		return err
	}
	defer identifier.Close()
	if err := identifier.Load(cmd.Context()); err != nil {
		log.Warn("Failed to load face model", "error", err)
	}

	device, fallback, err := opencv.NewDevice(cfg.Camera, "/dev")
	if err != nil {
		return err
	}
	if fallback {
		fmt.Fprintln(cmd.ErrOrStderr(), "No camera found, capturing a simulated frame")
	}

	if err := device.Open(cmd.Context()); err != nil {
		return fmt.Errorf("failed to open %s: %w", device.Name(), err)
	}
	defer device.Close()

	frame, err := device.Read()
	if err != nil {
		return fmt.Errorf("failed to read frame: %w", err)
	}

	detections, err := identifier.Detect(frame)
	if err != nil {
		log.Warn("Detection failed", "error", err)
	}

	if err := storage.SaveJPEG(captureOutput, camera.Annotate(frame, detections), cfg.Web.JPEGQuality); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved %s from %s\n", captureOutput, device.Name())
	if len(detections) == 0 {
		fmt.Fprintln(out, "No faces detected")
	}
	for _, d := range detections {
		fmt.Fprintf(out, "  %-12s distance %6.1f  at %v\n", d.Label, d.Confidence, d.Box)
	}
	return nil
}
