package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sandevgo/capassist/internal/service/ui"
	"github.com/sandevgo/capassist/pkg/log"
	"github.com/sandevgo/capassist/pkg/srv"
)

const shutdownGrace = 5 * time.Second

var chatFlags requestFlags

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long:  `Starts a REPL where every question shares one session, so follow-ups can refer to earlier answers. Type 'exit' to quit and '/clear' to forget the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		app := NewApp(ctx)

		// Start background services
		svcCtx, cancel := context.WithCancel(ctx)
		srv.StartServices(svcCtx, app.Services)
		defer func() {
			cancel()
			stopCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer done()
			if err := srv.StopServices(stopCtx, app.Services); err != nil {
				logger.Warn().Err(err).Msg("shutdown incomplete")
			}
			logger.Debug().Msg("chat session closed")
		}()

		if chatFlags.session == "" {
			chatFlags.session = uuid.NewString()
		}
		logger.Info().Str("session_id", chatFlags.session).Msg("chat started. Type 'exit' to quit.")

		out := cmd.OutOrStdout()
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			fmt.Fprint(out, ui.UsageStyle.Render(">>> "))

			var line string
			select {
			case <-ctx.Done():
				return nil
			case l, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(l)
			}

			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			case "/clear":
				n := app.Memory.ClearSessionData(ctx, chatFlags.session)
				fmt.Fprintln(out, ui.DescStyle.Render(fmt.Sprintf("cleared %d entries", n)))
				continue
			}

			resp := app.Generator.GenerateResponse(ctx, chatFlags.request(cmd, line))
			if err := chatFlags.print(out, resp); err != nil {
				logger.Error().Err(err).Msg("failed to print response")
			}
		}
	},
}

func init() {
	chatFlags.register(chatCmd)
	rootCmd.AddCommand(chatCmd)
}
