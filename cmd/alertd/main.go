package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"dagster-alert/internal/alert"
	"dagster-alert/internal/config"
	"dagster-alert/internal/dagster"
	"dagster-alert/internal/logging"
	"dagster-alert/internal/notification"
	"dagster-alert/internal/scheduler"
	"dagster-alert/internal/storage"
	"dagster-alert/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Init("info")
		logging.Logger.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Logging.Level)
	log := logging.WithComponent("main")

	kv, err := storage.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("open store")
	}
	defer kv.Close()

	ruleStore := storage.NewRuleStore(kv)
	notificationStore := storage.NewNotificationStore(kv, cfg.Alerts.HistoryCap)
	checkpointStore := storage.NewCheckpointStore(kv)

	sinks, err := notification.BuildSinks(cfg.Notifications)
	if err != nil {
		log.Fatal().Err(err).Msg("build notification sinks")
	}
	sink := notification.NewMultiSink(sinks...)

	runs := dagster.NewClient(cfg.Dagster)
	evaluator := alert.NewRunEvaluator(runs, cfg.Alerts.FetchLimit)
	dispatcher := alert.NewDispatcher(sink, notificationStore)
	engine := alert.NewEngine(ruleStore, notificationStore, checkpointStore, evaluator, dispatcher, cfg.Alerts.RetentionDays)

	cronSched := scheduler.NewCronScheduler()
	adapter := scheduler.NewAdapter(cronSched, engine, cfg.Scheduler.GetInterval())
	if err := adapter.Register(); err != nil {
		log.Fatal().Err(err).Msg("register scheduled pass")
	}

	server := web.NewServer(cfg.Web, engine, adapter)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("web server stopped")
		}
	}()

	log.Info().
		Str("dagster_url", cfg.Dagster.URL).
		Dur("interval", cfg.Scheduler.GetInterval()).
		Msg("dagster-alert is running")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	cronSched.Stop()
	log.Info().Msg("dagster-alert stopped")
}
