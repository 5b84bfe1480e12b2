// Package app wires configuration, storage, publishing and the pipeline
// into one runnable unit shared by the server and the CLI.
package app

import (
	"errors"

	"call-review-go/internal/config"
	"call-review-go/internal/logger"
	"call-review-go/internal/metrics"
	"call-review-go/internal/pipeline"
	"call-review-go/internal/publish"
	"call-review-go/internal/store"
)

type App struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Orch    *pipeline.Orchestrator
	Pool    *pipeline.Pool
	// Reports is the store reads go to: SQLite when configured, otherwise
	// the reports directory.
	Reports store.Store

	closers []func() error
}

// Open builds the app. A configured AMQP broker that cannot be reached is
// logged and skipped; storage failures are fatal.
func Open(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}
	var sinks []pipeline.Sink

	if dir := cfg.Storage.ReportsDir; dir != "" {
		fs, err := store.NewFileStore(dir, log.Entry)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
		a.Reports = fs
	}
	if path := cfg.Storage.SQLitePath; path != "" {
		db, err := store.OpenSQLite(path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		sinks = append(sinks, db)
		a.Reports = db
	}
	if url := cfg.Storage.AMQPURL; url != "" {
		pub, err := publish.DialAMQP(url, cfg.Storage.AMQPQueue, log.Entry)
		if err != nil {
			log.WithError(err).Warn("AMQP publishing disabled")
		} else {
			a.closers = append(a.closers, pub.Close)
			sinks = append(sinks, pub)
		}
	}

	orch, err := pipeline.Build(cfg, a.Metrics, sinks, log.Entry)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orch = orch
	a.Pool = pipeline.NewPool(orch, cfg.Pipeline.Concurrency, cfg.Pipeline.QueueSize, a.Metrics, log.Entry)
	return a, nil
}

// Close drains the pool, then closes sinks.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
