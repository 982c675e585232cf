package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"

	"github.com/ayusman/pianovision/internal/app"
	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/server"
	"github.com/ayusman/pianovision/internal/snapshot"
	"github.com/ayusman/pianovision/internal/store"
	"github.com/ayusman/pianovision/internal/tray"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	Reuse       bool
	CameraID    int
	SnapshotDir string
	NoServer    bool
	Tray        bool
	RemoveHands bool
	StaticDir   string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <video>",
	Short: "Calibrate on the reference frame and track hands over the keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("remove-hands") {
			cfg.Pipeline.RemoveHands = runOpts.RemoveHands
		}
		if runOpts.SnapshotDir != "" {
			cfg.Snapshot.Dir = runOpts.SnapshotDir
		}
		return runPipeline(cmd.Context(), resolveInput(args[0]), runOpts, cmd.Flags().Changed("remove-hands"))
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.Reuse, "reuse", false, "Reuse the latest stored calibration for this video")
	runCmd.Flags().IntVar(&runOpts.CameraID, "camera", -1, "Read from a camera device instead of the video file")
	runCmd.Flags().StringVar(&runOpts.SnapshotDir, "snapshot-dir", "", "Save the reference keyboard and last frame surfaces here")
	runCmd.Flags().BoolVar(&runOpts.NoServer, "no-server", false, "Do not start the HTTP preview server")
	runCmd.Flags().BoolVar(&runOpts.Tray, "tray", false, "Show a system tray menu")
	runCmd.Flags().BoolVar(&runOpts.RemoveHands, "remove-hands", true, "Remove hands from the keyboard surface")
	runCmd.Flags().StringVar(&runOpts.StaticDir, "static-dir", "", "Serve a web viewer from this directory")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, in input, opts runOptions, removeHandsFlag bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	src, err := openSource(in, opts.CameraID)
	if err != nil {
		return err
	}
	defer func() { src.Close() }()

	refPath := in.reference
	if opts.CameraID >= 0 {
		refPath = ""
	}
	ref, src, err := capture.ReferenceFrame(refPath, src)
	if err != nil {
		return fmt.Errorf("failed to load reference frame: %w", err)
	}
	session, err := loadSession(st, in, ref, opts.Reuse)
	ref.Close()
	if err != nil {
		return err
	}
	printKeyCounts(session)

	removeHands := cfg.Pipeline.RemoveHands
	if !removeHandsFlag {
		removeHands = st.Settings().Bool(store.SettingRemoveHands, removeHands)
	}

	var snaps *snapshot.Writer
	if cfg.Snapshot.Dir != "" {
		if snaps, err = snapshot.NewWriter(cfg.Snapshot.Dir, cfg.Snapshot.Format, cfg.Snapshot.Quality); err != nil {
			return err
		}
	}

	total := -1
	if c, ok := src.(capture.Counter); ok && c.FrameCount() > 0 {
		total = c.FrameCount()
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Tracking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var tr *tray.Tray
	if opts.Tray {
		tr = tray.New(removeHands)
	}

	pipeline := app.New(session, src, app.Config{
		Hands:             cfg.Hands,
		RemoveHands:       removeHands,
		CoverageThreshold: cfg.Pipeline.CoverageThreshold,
		MotionThreshold:   cfg.Pipeline.MotionThreshold,
		Store:             st,
		Snapshots:         snaps,
		OnFrame: func(r app.FrameResult) {
			bar.Add(1)
			if tr != nil {
				tr.SetStatus(r.Index+1, r.Covered)
			}
		},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Server.Enabled && !opts.NoServer {
		hub := server.NewHub(cfg.Server.JPEGQuality)
		pipeline.AddPublisher(hub)

		srv := server.New(server.Config{
			StaticDir:   opts.StaticDir,
			Store:       st,
			Hub:         hub,
			Session:     session,
			HandRemoval: pipeline,
		})
		fmt.Printf("Serving preview on http://%s/api/stream\n", cfg.Server.Addr)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				log.Printf("Server failed: %v", err)
			}
		}()
	}

	if tr == nil {
		err = pipeline.Run(ctx)
		bar.Finish()
		return ignoreCancel(err)
	}

	tr.OnToggle(func(enabled bool) {
		pipeline.SetRemoveHands(enabled)
		if err := st.Settings().SetBool(store.SettingRemoveHands, enabled); err != nil {
			log.Printf("Failed to persist %s: %v", store.SettingRemoveHands, err)
		}
	})
	tr.OnOpen(func() {
		openBrowser("http://" + cfg.Server.Addr + "/api/stream")
	})
	tr.OnQuit(cancel)

	done := make(chan error, 1)
	go func() {
		err := pipeline.Run(ctx)
		bar.Finish()
		tr.Quit()
		done <- err
	}()

	// The tray event loop must own the main thread.
	tr.Run()
	cancel()
	return ignoreCancel(<-done)
}

// ignoreCancel treats a user interrupt as a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nStopped.")
		return nil
	}
	return err
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open %s: %v", url, err)
	}
}
