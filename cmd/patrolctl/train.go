package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/opencv"
	"github.com/pipatrol/patrol/internal/state"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the face model from the corpus directory",
	Long: `Reads every image under the corpus directory (one sub-directory per
person), crops each to its largest face and trains a new LBPH model. The
model and label map are written next to each other and picked up by the
node on its next start, or immediately through POST /api/train.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	identifier, err := opencv.NewIdentifier(cfg.Face, log.Named("face"))
	if err != nil {
		return err
	}
	defer identifier.Close()

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Training"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(done)
	}

	result, err := identifier.Train(cmd.Context(), progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if err := recordTraining(cmd, result.Labels, result.Samples); err != nil {
		log.Warn("Model trained but not recorded in the event database", "error", err)
	}

	printTrainResult(cmd.OutOrStdout(), result)
	return nil
}

func printTrainResult(out io.Writer, result *face.TrainResult) {
	if result.Samples == 0 {
		if len(result.Labels) == 0 {
			fmt.Fprintf(out, "No faces found in %s.\n", cfg.Face.CorpusDir)
		} else {
			fmt.Fprintf(out, "No usable face in %d images of %d people in %s.\n", result.Skipped, len(result.Labels), cfg.Face.CorpusDir)
		}
		fmt.Fprintln(out, "No model was produced; the node will report every face as Unknown.")
		return
	}

	fmt.Fprintf(out, "Trained on %d samples of %d people in %s\n", result.Samples, len(result.Labels), result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "People: %s\n", strings.Join(result.Labels, ", "))
	if result.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d images without a usable face\n", result.Skipped)
	}
	fmt.Fprintf(out, "Model: %s\n", cfg.Face.ModelPath)
}

func recordTraining(cmd *cobra.Command, labels []string, samples int) error {
	stateMgr, err := state.Open(cfg.DatabasePath(), log)
	if err != nil {
		return err
	}
	defer stateMgr.Close()
	return stateMgr.RecordModelTraining(cmd.Context(), labels, samples, time.Now())
}
