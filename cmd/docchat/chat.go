package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/docchat-sdk-go/docchat"
)

func chatCmd(config configFunc) *cobra.Command {
	var (
		frames      string
		turnTimeout time.Duration
		maxAttempts int
		logPath     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config()
			if err != nil {
				return err
			}
			cfg.TurnTimeout = turnTimeout
			cfg.ReconnectMaxAttempts = maxAttempts
			cfg.FrameMode = docchat.ParseFrameMode(frames)
			if err := cfg.Validate(); err != nil {
				return err
			}

			// the terminal belongs to the UI, so logs only go to the file
			logger := docchat.NewFileLogger(logPath)
			defer func() { _ = logger.Sync() }()

			driver := docchat.NewDriver(cfg)
			driver.SetLogger(logger)
			session := docchat.NewCoordinator(driver, cfg)
			session.SetLogger(logger)

			b := newBridge()
			session.SetNotifier(statusNotifier{b})
			session.Transcript().OnAppend(func(e docchat.Entry) { b.send(entryMsg(e)) })
			session.OnIndicator(func(n int) { b.send(indicatorMsg(n)) })
			driver.OnStateChanged(func(ev docchat.StateEvent) { b.send(stateMsg(ev)) })

			if err := session.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			p := tea.NewProgram(newChatModel(session, b, cfg.URL), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, runErr := p.Run()

			b.stop()
			if err := session.Close(); err != nil {
				logger.Warn("close session", map[string]any{"error": err})
			}
			return runErr
		},
	}

	def := docchat.DefaultConfig()
	cmd.Flags().StringVar(&frames, "frames", def.FrameMode.String(), "malformed reply handling: tolerant drops them, strict shows them in the transcript")
	cmd.Flags().DurationVar(&turnTimeout, "turn-timeout", def.TurnTimeout, "give up waiting for a reply after this long (0 waits forever)")
	cmd.Flags().IntVar(&maxAttempts, "reconnect-attempts", def.ReconnectMaxAttempts, "consecutive reconnect attempts before giving up (0 retries forever)")
	cmd.Flags().StringVar(&logPath, "log-file", "docchat.log", "log file")
	return cmd
}
