package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/multiverse-chat/multiverse/pkg/chat"
	"github.com/multiverse-chat/multiverse/pkg/engine"
	"github.com/multiverse-chat/multiverse/pkg/server"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("addr", ":8000", "Listen address")
	cmd.Flags().String("db", "multiverse.db", "SQLite database path")
	cmd.Flags().String("backend", "ollama", "Model backend (ollama, openai, scripted)")
	cmd.Flags().String("openai-api-key", "", "API key for the openai backend")
	cmd.Flags().String("openai-base-url", "", "Base URL override for the openai backend")
	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))

	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	// Seal anything a previous process left pending before accepting traffic.
	sealed, err := st.ReconcilePending(ctx)
	if err != nil {
		return err
	}
	if sealed > 0 {
		log.Info().Int64("count", sealed).Msg("sealed nodes orphaned by previous run")
	}

	backend, err := buildBackend()
	if err != nil {
		return err
	}

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := backend.Health(healthCtx); err != nil {
		log.Warn().Err(err).Msg("model backend unreachable at startup")
	}
	cancel()

	service := chat.NewService(st, backend)
	return server.New(st, backend, service).Run(ctx, viper.GetString("addr"))
}

func buildBackend() (engine.Backend, error) {
	name := viper.GetString("backend")
	switch name {
	case "ollama":
		return engine.NewOllamaBackend()
	case "openai":
		return engine.NewOpenAIBackend(
			viper.GetString("openai-api-key"),
			viper.GetString("openai-base-url"),
		), nil
	case "scripted":
		return engine.NewScriptedBackend(engine.Script{
			Tokens: []string{"scripted ", "response"},
			Delay:  50 * time.Millisecond,
		}), nil
	default:
		return nil, errors.Errorf("unknown backend %q", name)
	}
}
