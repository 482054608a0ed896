package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sandevgo/capassist/internal/service/response"
	"github.com/sandevgo/capassist/internal/service/ui"
	"github.com/sandevgo/capassist/pkg/log"
	"github.com/sandevgo/capassist/pkg/srv"
)

// requestFlags are the per-question flags shared by ask and chat.
type requestFlags struct {
	session  string
	intent   string
	entities map[string]string
	data     map[string]string
	format   string
	detail   string
	tone     string
	reason   bool
	noLLM    bool
	charts   bool
	timeout  time.Duration
	explain  bool
	jsonOut  bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.session, "session", "s", "", "session id (default: new session)")
	fs.StringVarP(&f.intent, "intent", "i", "", "intent override (default: guessed from the question)")
	fs.StringToStringVarP(&f.entities, "entity", "e", nil, "entity as type=value, repeatable")
	fs.StringToStringVar(&f.data, "data", nil, "template data as key=value, repeatable")
	fs.StringVarP(&f.format, "format", "f", "", "output format: text, markdown, html, json, speech")
	fs.StringVar(&f.detail, "detail", "", "detail level: brief, medium, comprehensive")
	fs.StringVar(&f.tone, "tone", "", "tone: professional, friendly, technical, simple")
	fs.BoolVarP(&f.reason, "reason", "r", false, "force multi-step reasoning")
	fs.BoolVar(&f.noLLM, "no-llm", false, "answer from templates only")
	fs.BoolVar(&f.charts, "charts", false, "include visualizations")
	fs.DurationVar(&f.timeout, "timeout", 0, "overall answer timeout")
	fs.BoolVarP(&f.explain, "explain", "x", false, "show reasoning steps and verification")
	fs.BoolVar(&f.jsonOut, "json", false, "print the raw response as JSON")
}

// request builds a generator request for text. Flags the user did not set
// leave the configured defaults in place.
func (f *requestFlags) request(cmd *cobra.Command, text string) response.Request {
	intent, entities := classify(text)
	if f.intent != "" {
		intent = f.intent
	}
	if entities == nil {
		entities = map[string]string{}
	}
	maps.Copy(entities, f.entities)

	data := make(map[string]any, len(f.data))
	for k, v := range f.data {
		data[k] = v
	}

	opts := response.Options{
		SessionID: f.session,
		Format:    f.format,
		Detail:    f.detail,
		Tone:      f.tone,
		Timeout:   f.timeout,
	}
	fs := cmd.Flags()
	if fs.Changed("reason") {
		opts.UseReasoning = &f.reason
	}
	if fs.Changed("no-llm") {
		useLLM := !f.noLLM
		opts.UseLLM = &useLLM
	}
	if fs.Changed("charts") {
		opts.IncludeVisualizations = &f.charts
	}

	return response.Request{
		Intent:   intent,
		Entities: entities,
		Data:     data,
		Query:    text,
		Options:  opts,
	}
}

func (f *requestFlags) print(w io.Writer, resp response.Response) error {
	if f.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return ui.RenderResponse(w, resp, f.explain)
}

var askFlags requestFlags

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		app := NewApp(ctx)
		defer func() {
			if err := srv.StopServices(context.WithoutCancel(ctx), app.Services); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Msg("shutdown incomplete")
			}
		}()

		if askFlags.session == "" {
			askFlags.session = uuid.NewString()
		}
		req := askFlags.request(cmd, strings.Join(args, " "))
		resp := app.Generator.GenerateResponse(ctx, req)
		if err := askFlags.print(cmd.OutOrStdout(), resp); err != nil {
			return fmt.Errorf("print response: %w", err)
		}
		return nil
	},
}

func init() {
	askFlags.register(askCmd)
	rootCmd.AddCommand(askCmd)
}
