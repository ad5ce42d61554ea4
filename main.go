package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-midisurface/clock"
	"go-midisurface/config"
	"go-midisurface/debug"
	"go-midisurface/loop"
	"go-midisurface/midi"
	"go-midisurface/surface"
	"go-midisurface/theme"
	"go-midisurface/tui"
)

var (
	Version = "dev"

	// Command-line configuration
	opts struct {
		config   string
		log      string
		palette  string
		bpm      int
		external bool
		in       string
		out      string
		noSave   bool
	}
)

var rootCmd = &cobra.Command{
	Use:   "go-midisurface",
	Short: "A terminal MIDI control surface",
	Long: `go-midisurface fires MIDI notes and control changes on every quarter
note, driven by its own clock or by MIDI clock from external gear.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runSurface,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.config, "config", "c", "",
		"Config file (default ~/.config/go-midisurface/config.json)")
	rootCmd.Flags().StringVarP(&opts.log, "log", "l", "",
		"Write debug logs to specified file (empty disables)")
	rootCmd.Flags().StringVar(&opts.palette, "palette", "",
		"GIMP palette file for the UI colors")
	rootCmd.Flags().IntVarP(&opts.bpm, "bpm", "b", clock.DefaultBPM,
		"Tempo for the internal clock (60-200)")
	rootCmd.Flags().BoolVarP(&opts.external, "external", "e", false,
		"Follow MIDI clock from the input port")
	rootCmd.Flags().StringVarP(&opts.in, "in", "i", "",
		"MIDI input port name")
	rootCmd.Flags().StringVarP(&opts.out, "out", "o", "",
		"MIDI output port name")
	rootCmd.Flags().BoolVar(&opts.noSave, "no-save", false,
		"Do not write the config back on exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSurface(cmd *cobra.Command, args []string) error {
	if opts.log != "" {
		if err := debug.EnableFile(opts.log); err != nil {
			return errors.Wrap(err, "open log")
		}
		defer debug.Disable()
	}

	path := opts.config
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	th, err := loadTheme()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// the loop outlives the UI so shutdown can still release notes and export
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	lp := loop.New()
	go lp.Run(loopCtx)

	out := midi.NewOutput(cfg.MIDI.OutputPort)
	defer out.Close()

	manager := surface.New(lp, out, cfg)
	if err := manager.OpenInput(cfg.MIDI.InputPort); err != nil {
		// the device manager opens it when it shows up
		debug.Warn("main", "%v", err)
	}

	// Create MIDI device manager (handles hot-plug)
	deviceMgr := midi.NewDeviceManager()
	go deviceMgr.Run(ctx)

	model := tui.NewModel(manager, deviceMgr, th)
	model.FlashHold = time.Duration(cfg.UI.FlashMillis) * time.Millisecond
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}

	manager.Close()
	if !opts.noSave {
		manager.Export(cfg)
		if err := cfg.SaveTo(path); err != nil {
			debug.Error("main", "save config: %v", err)
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return runErr
}

// applyFlags lets explicit flags override the saved config
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("bpm") {
		cfg.Tempo.BPM = opts.bpm
	}
	if flags.Changed("external") {
		if opts.external {
			cfg.Tempo.Source = string(clock.SourceExternal)
		} else {
			cfg.Tempo.Source = string(clock.SourceInternal)
		}
	}
	if flags.Changed("in") {
		cfg.MIDI.InputPort = opts.in
	}
	if flags.Changed("out") {
		cfg.MIDI.OutputPort = opts.out
	}
	cfg.Normalize()
}

func loadTheme() (*theme.Theme, error) {
	if opts.palette == "" {
		return theme.New(theme.Plasma()), nil
	}
	palette, err := theme.LoadGPL(opts.palette)
	if err != nil {
		return nil, err
	}
	return theme.New(palette), nil
}
