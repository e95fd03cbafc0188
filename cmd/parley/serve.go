package main

import (
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/pkg/auth"
	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/executor"
	"github.com/parley-ai/parley/pkg/llm"
	"github.com/parley-ai/parley/pkg/runtime"
	"github.com/parley-ai/parley/pkg/server"
	"github.com/parley-ai/parley/pkg/session"
	"github.com/parley-ai/parley/pkg/stream"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			srv, err := buildServer(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting", "agent", cfg.Agent.Name, "addr", cfg.Server.Address(), "devMode", cfg.Auth.DevMode)
			return srv.Start(ctx)
		},
	}
}

func buildServer(cfg *config.Config, log logr.Logger) (*server.Server, error) {
	sessions, store, err := openSessionService(cfg, log)
	if err != nil {
		return nil, err
	}
	manager := session.NewManager(sessions)

	model, err := llm.NewClient(cfg.Agent.Model, log)
	if err != nil {
		return nil, err
	}

	driver := runtime.NewDriver(runtime.AgentConfig{
		Name:          cfg.Agent.Name,
		Description:   cfg.Agent.Description,
		Instruction:   cfg.Agent.Instruction,
		OutputSchema:  cfg.Agent.OutputSchema,
		MaxIterations: cfg.Agent.MaxIterations,
	}, model, sessions, nil, nil, log)

	translator := stream.NewTranslator(driver, manager, cfg.Retry.Policy(), log)
	authn := auth.NewBearerAuthenticator(newVerifier(cfg))
	exec := executor.NewExecutor(translator, authn, cfg.Auth.DevMode, log)

	return server.New(cfg.Server, cfg.Agent, exec, sessions, store, log), nil
}

func openSessionService(cfg *config.Config, log logr.Logger) (session.Service, *session.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return session.NewInMemoryService(), nil, nil
	}
	db, err := session.OpenDatabase(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewStore(db, log)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func newVerifier(cfg *config.Config) auth.TokenVerifier {
	if cfg.Auth.JWKSURL != "" {
		return auth.NewJWKSVerifier(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
	}
	return auth.NewHMACVerifier(cfg.Auth.HMACSecret)
}
