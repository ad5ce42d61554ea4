package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-midisurface/clock"
	"go-midisurface/debug"
	"go-midisurface/loop"
	"go-midisurface/midi"
	"go-midisurface/surface"
)

var (
	noteFlags struct {
		out      string
		note     int
		velocity int
		channel  int
		length   time.Duration
	}
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "miditest",
	Short: "MIDI test scripts",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			debug.EnableTo(os.Stderr)
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all MIDI ports",
	Run:   func(cmd *cobra.Command, args []string) { listPorts() },
}

var clockCmd = &cobra.Command{
	Use:   "clock <input port>",
	Short: "Print BPM and quarter notes from incoming MIDI clock",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return monitorClock(args[0]) },
}

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Send one test note",
	RunE:  func(cmd *cobra.Command, args []string) error { return sendNote() },
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll for device changes",
	Run:   func(cmd *cobra.Command, args []string) { pollDevices() },
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug log to stderr")

	noteCmd.Flags().StringVarP(&noteFlags.out, "out", "o", "", "Output port name (default first port)")
	noteCmd.Flags().IntVarP(&noteFlags.note, "note", "n", 60, "Note number")
	noteCmd.Flags().IntVar(&noteFlags.velocity, "velocity", 100, "Velocity")
	noteCmd.Flags().IntVarP(&noteFlags.channel, "channel", "c", 0, "Channel 0-15")
	noteCmd.Flags().DurationVar(&noteFlags.length, "length", surface.DefaultNoteDuration, "Note length")

	rootCmd.AddCommand(listCmd, clockCmd, noteCmd, pollCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins, outs []string
	}
	ch := make(chan result, 1)
	go func() {
		ins, outs := midi.ListPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, name := range r.ins {
			fmt.Printf("  %d: %s\n", i, name)
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, name := range r.outs {
			fmt.Printf("  %d: %s\n", i, name)
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

// monitorClock feeds an input port into the estimator and prints what it sees
func monitorClock(portName string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lp := loop.New()
	go lp.Run(ctx)

	var est *clock.Estimator
	quarters := 0
	lp.Do(func() {
		est = clock.NewEstimator(lp)
		est.OnChange(func(e clock.Estimate) {
			if !e.IsReceiving {
				fmt.Println("waiting for clock")
				return
			}
			fmt.Printf("bpm %d\n", e.BPM)
		})
	})

	in, err := midi.OpenInput(portName, func(raw []byte) {
		lp.Post(func() {
			ev, ok := midi.Parse(raw)
			if !ok {
				return
			}
			switch ev.Kind {
			case midi.KindClock:
				if est.OnTick() {
					quarters++
					fmt.Printf("quarter %d  bpm %d\n", quarters, est.BPM())
				}
			case midi.KindStart:
				est.OnStart()
				quarters = 0
				fmt.Println("start")
			case midi.KindContinue:
				fmt.Println("continue")
			case midi.KindStop:
				est.OnStop()
				fmt.Println("stop")
			}
		})
	})
	if err != nil {
		return err
	}
	defer in.Close()

	fmt.Printf("Listening on %s. Ctrl+C to exit.\n", portName)
	<-ctx.Done()
	return nil
}

// sendNote plays one note through the same note-off bookkeeping the surface uses
func sendNote() error {
	name := noteFlags.out
	if name == "" {
		_, outs := midi.ListPorts()
		if len(outs) == 0 {
			return midi.ErrNoDevice
		}
		name = outs[0]
	}
	out := midi.NewOutput(name)
	defer out.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lp := loop.New()
	go lp.Run(ctx)

	done := make(chan struct{})
	lp.Do(func() {
		d := surface.NewDispatcher(lp, out, surface.NewRegistry(), nil)
		d.PlayNote(midi.ClampData(noteFlags.note), midi.ClampData(noteFlags.velocity),
			midi.ClampChannel(noteFlags.channel), noteFlags.length)
		lp.AfterFunc(noteFlags.length+50*time.Millisecond, func() { close(done) })
	})

	fmt.Printf("Sent note %d vel %d ch %d to %s\n", noteFlags.note, noteFlags.velocity, noteFlags.channel, name)
	<-done
	return nil
}

func pollDevices() {
	fmt.Println("Polling for device changes...")
	fmt.Println("Connect/disconnect devices to test. Ctrl+C to exit.")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dm := midi.NewDeviceManager()
	go dm.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-dm.Events():
			state := "connected"
			if ev.Type == midi.DeviceDisconnected {
				state = "disconnected"
			}
			fmt.Printf("[%s] %s %s: %s\n", time.Now().Format("15:04:05"), ev.Direction, state, ev.Name)
		}
	}
}
