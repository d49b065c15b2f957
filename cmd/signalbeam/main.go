package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalbeam/signalbeam/internal/api_server"
	"github.com/signalbeam/signalbeam/internal/config"
	"github.com/signalbeam/signalbeam/internal/events"
	"github.com/signalbeam/signalbeam/internal/service"
	"github.com/signalbeam/signalbeam/internal/store"
	"github.com/signalbeam/signalbeam/internal/tasks"
	"github.com/signalbeam/signalbeam/pkg/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "signalbeam",
		Short:        "SignalBeam edge device control plane",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", config.ConfigFile(), "path to the configuration file")
	return cmd
}

func runServer(configFile string) error {
	cfg, err := config.LoadOrGenerate(configFile)
	if err != nil {
		return err
	}
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := log.InitLogs()
	log.SetLevel(logger, cfg.Service.LogLevel)
	logger.Infof("starting SignalBeam API service on %s", cfg.Service.Address)
	defer logger.Info("SignalBeam API service stopped")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.InitDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("initializing data store")
		return err
	}
	st := store.NewStore(db, logger.WithField("pkg", "store"))
	defer st.Close()

	if err := st.InitialMigration(); err != nil {
		logger.WithError(err).Error("running database migrations")
		return err
	}

	publisher := buildPublisher(cfg, logger)
	quota := buildQuotaGate(cfg, st)
	handler := service.NewServiceHandler(st, cfg, quota, publisher, logger.WithField("pkg", "service"))

	workers := tasks.NewManager(ctx, logger.WithField("pkg", "tasks"), cfg, handler)
	workers.Start()
	defer workers.Stop()

	server := api_server.New(logger.WithField("pkg", "api"), cfg, st, handler)
	return server.Run(ctx)
}

func buildPublisher(cfg *config.Config, logger *logrus.Logger) events.Publisher {
	if cfg.Events == nil || cfg.Events.RedisAddr == "" {
		return events.NewNoop()
	}
	return events.NewRedis(cfg.Events.RedisAddr, cfg.Events.RedisPassword, logger.WithField("pkg", "events"))
}

func buildQuotaGate(cfg *config.Config, st store.Store) service.QuotaGate {
	if cfg.Service.QuotaServiceURL != "" {
		return service.NewHTTPQuotaGate(cfg.Service.QuotaServiceURL)
	}
	return service.NewStoreQuotaGate(st)
}
