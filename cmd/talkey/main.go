package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"talkey/internal/bootstrap"
	"talkey/internal/config"
	"talkey/internal/daemon"
	"talkey/internal/domain"
)

var version = "dev"

var overrides config.Overrides

func main() {
	rootCmd := &cobra.Command{
		Use:           "talkey",
		Short:         "Hold-to-dictate for Linux: record, transcribe, paste",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&overrides.ConfigFile, "config", "", "config file (default ~/.config/talkey/talkey.env)")
	rootCmd.PersistentFlags().StringVar(&overrides.SocketPath, "socket", "", "daemon control socket path")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(controlCmd("start", "Start recording", daemon.OpStart))
	rootCmd.AddCommand(controlCmd("stop", "Stop recording and transcribe", daemon.OpStop))
	rootCmd.AddCommand(controlCmd("cancel", "Cancel the active session", daemon.OpCancel))
	rootCmd.AddCommand(controlCmd("toggle", "Start or stop recording", daemon.OpToggle))
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dictation daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon()
		},
	}
	cmd.Flags().StringVar(&overrides.Hotkey, "hotkey", "", "chord that drives recording, e.g. super or ctrl+shift")
	cmd.Flags().StringVar(&overrides.Model, "model", "", "transcription model name")
	cmd.Flags().StringVar(&overrides.WhisperURL, "whisper-url", "", "transcription server base URL")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "trace|debug|info|warn|error")
	return cmd
}

func runDaemon() error {
	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("hotkey", cfg.Hotkey).Msg("talkey starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(cfg, log)
	if err != nil {
		return err
	}
	defer services.Close()

	go services.Orchestrator.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- services.Server.Serve(ctx)
	}()

	samples, err := services.Keys.Samples(ctx)
	if err != nil {
		return err
	}

	// Live config reload: a changed hotkey reaches the classifier between
	// samples, changed session settings apply from the next use point.
	configFile := overrides.ConfigFile
	if configFile == "" {
		configFile = config.DefaultFile()
	}
	if err := config.Watch(ctx, configFile, log.With().Str("component", "config").Logger(), func() {
		fresh, err := config.Load(overrides)
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed, keeping previous settings")
			return
		}
		hk, err := domain.ParseHotkey(fresh.Hotkey)
		if err != nil {
			log.Warn().Err(err).Msg("reloaded hotkey invalid, keeping previous")
		} else {
			services.Classifier.SetHotkey(hk)
		}
		services.Orchestrator.UpdateSettings(bootstrap.SessionSettings(fresh))
		log.Info().Str("hotkey", fresh.Hotkey).Msg("config reloaded")
	}); err != nil {
		log.Warn().Err(err).Msg("config watch unavailable, edit requires restart")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			// Run cancels any active session on ctx end; wait for its
			// cleanup (inhibition, media, capture) to settle.
			select {
			case <-services.Orchestrator.Done():
			case <-time.After(5 * time.Second):
				log.Warn().Msg("session cleanup did not settle before shutdown")
			}
			return nil
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("control socket: %w", err)
			}
			return nil
		case sample, ok := <-samples:
			if !ok {
				if ctx.Err() != nil {
					samples = nil
					continue
				}
				return fmt.Errorf("keyboard source closed")
			}
			switch services.Classifier.Process(sample.Chord, sample.At) {
			case domain.IntentStartRecording:
				services.Orchestrator.HandleIntent(domain.IntentStartRecording)
			case domain.IntentStopRecording:
				services.Orchestrator.HandleIntent(domain.IntentStopRecording)
			case domain.IntentCancel:
				services.Orchestrator.Cancel()
			}
		}
	}
}

func dial() (*daemon.Client, error) {
	socket := overrides.SocketPath
	if socket == "" {
		cfg, err := config.Load(overrides)
		if err == nil {
			socket = cfg.SocketPath
		}
	}
	return daemon.Dial(socket)
}

func printStatus(status *domain.Status) {
	if status == nil {
		return
	}
	fmt.Printf("state: %s\n", status.State)
	fmt.Printf("sessions: %d completed, %d failed\n", status.Completed, status.Failed)
	if status.LastError != "" {
		fmt.Printf("last error: %s\n", status.LastError)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Send(daemon.Command{Op: daemon.OpStatus})
			if err != nil {
				return err
			}
			printStatus(resp.Status)
			return nil
		},
	}
}

func controlCmd(use, short, op string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Send(daemon.Command{Op: op})
			if err != nil {
				return err
			}
			printStatus(resp.Status)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcripts, newest first",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Send(daemon.Command{Op: daemon.OpList, Limit: limit})
			if err != nil {
				return err
			}
			if len(resp.Transcripts) == 0 {
				fmt.Println("no transcripts")
				return nil
			}
			for _, t := range resp.Transcripts {
				fmt.Printf("%s  %s  %5.1fs  %s\n",
					t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Duration, t.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of transcripts")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one transcript and its audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.Send(daemon.Command{Op: daemon.OpDelete, ID: args[0]}); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all transcripts and their audio",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Send(daemon.Command{Op: daemon.OpClear})
			if err != nil {
				return err
			}
			fmt.Println("removed", resp.Removed, "transcripts")
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events to stdout",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Subscribe(); err != nil {
				return err
			}
			for {
				ev, err := client.ReadEvent()
				if err != nil {
					return err
				}
				printEvent(ev)
			}
		},
	}
}

func printEvent(ev daemon.Event) {
	stamp := time.Now().Format("15:04:05")
	switch ev.Kind {
	case daemon.EventState:
		fmt.Printf("%s state %s (%s)\n", stamp, ev.State, ev.Reason)
	case daemon.EventLevel:
		if ev.Level != nil {
			fmt.Printf("%s level avg=%s peak=%s\n", stamp,
				strconv.FormatFloat(ev.Level.Average, 'f', 3, 64),
				strconv.FormatFloat(ev.Level.Peak, 'f', 3, 64))
		}
	case daemon.EventTranscript:
		if ev.Transcript != nil {
			fmt.Printf("%s transcript %s: %s\n", stamp, ev.Transcript.ID, ev.Transcript.Text)
		}
	case daemon.EventError:
		fmt.Printf("%s error [%s] %s\n", stamp, ev.Code, ev.Detail)
	}
}
