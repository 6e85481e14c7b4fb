package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pipatrol/patrol/internal/opencv"
	"github.com/spf13/cobra"
)

var enrollImage string

var enrollCmd = &cobra.Command{
	Use:   "enroll NAME",
	Short: "Add an image to a person's corpus directory",
	Long: `Copies an image into the corpus under NAME. The model is not
retrained; run "patrolctl train" once all samples are enrolled.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollImage, "image", "i", "-", "image file to enroll, - for stdin")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if enrollImage == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(enrollImage)
	}
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	identifier, err := opencv.NewIdentifier(cfg.Face, log.Named("face"))
	if err != nil {
		return err
	}
	defer identifier.Close()

	filename, err := identifier.Enroll(args[0], data)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s\n", filename)
	return nil
}
