package main

import (
	"fmt"

	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/snapshot"
	"github.com/spf13/cobra"
)

var calibrateSnapshotDir string

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <video|image>",
	Short: "Find the keyboard and its keys on the reference frame and store the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCalibrate(resolveInput(args[0]))
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateSnapshotDir, "snapshot-dir", "", "Save the annotated reference keyboard here")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(in input) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var src capture.Source
	if in.video != "" {
		src = capture.NewVideoFile(in.video)
	}

	ref, src, err := capture.ReferenceFrame(in.reference, src)
	if src != nil {
		defer src.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to load reference frame: %w", err)
	}
	defer ref.Close()

	session, err := loadSession(st, in, ref, false)
	if err != nil {
		return err
	}

	fmt.Printf("Calibration %s saved for %s\n", session.ID(), in.name)
	printKeyCounts(session)

	if calibrateSnapshotDir != "" {
		w, err := snapshot.NewWriter(calibrateSnapshotDir, cfg.Snapshot.Format, cfg.Snapshot.Quality)
		if err != nil {
			return err
		}
		path, err := w.Save(in.name+"-keys", session.Reference())
		if err != nil {
			return fmt.Errorf("failed to save reference keyboard: %w", err)
		}
		fmt.Printf("Reference keyboard saved to %s\n", path)
	}

	return nil
}
