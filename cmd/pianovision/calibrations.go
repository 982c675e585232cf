package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ayusman/pianovision/internal/store"
	"github.com/spf13/cobra"
)

var calibrationsCmd = &cobra.Command{
	Use:   "calibrations",
	Short: "Manage stored calibrations",
}

var calibrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored calibrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCalibrationsList()
	},
}

var calibrationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a calibration and its runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCalibrationsDelete(args[0])
	},
}

func init() {
	calibrationsCmd.AddCommand(calibrationsListCmd, calibrationsDeleteCmd)
	rootCmd.AddCommand(calibrationsCmd)
}

func runCalibrationsList() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	calibrations, err := st.Calibrations().List()
	if err != nil {
		return fmt.Errorf("failed to list calibrations: %w", err)
	}

	if len(calibrations) == 0 {
		fmt.Println("No calibrations found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVIDEO\tFRAME\tKEYBOARD\tFIRST NOTE\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t--------\t----------\t-------")

	for _, c := range calibrations {
		note := c.FirstNote
		if note == "" {
			note = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%dx%d\t%s\t%s\n", c.ID, c.Video,
			c.FrameWidth, c.FrameHeight, c.KeyboardWidth, c.KeyboardHeight, note,
			c.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runCalibrationsDelete(id string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Calibrations().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("calibration %s not found", id)
		}
		return err
	}

	fmt.Printf("Deleted calibration %s\n", id)
	return nil
}
