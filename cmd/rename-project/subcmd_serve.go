package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/server"
	"gitlab.com/gitlab-org/rename-project/internal/version"
)

const (
	serveCmdName    = "serve"
	shutdownTimeout = 30 * time.Second
)

var errNoListenAddr = errors.New("listen_addr must be set")

type serveSubcommand struct{}

func (s *serveSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet(serveCmdName, flag.ContinueOnError)
}

func (s *serveSubcommand) Exec(ctx context.Context, flags *flag.FlagSet, conf config.Config) error {
	if conf.ListenAddr == "" {
		return errNoListenAddr
	}

	listener, err := net.Listen("tcp", conf.ListenAddr)
	if err != nil {
		return err
	}

	return serve(ctx, listener, conf)
}

// serve handles requests on listener until ctx is cancelled.
func serve(ctx context.Context, listener net.Listener, conf config.Config) error {
	a, err := newApp(ctx, conf)
	if err != nil {
		listener.Close()
		return err
	}
	defer a.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		buildInfoGauge(),
	)
	if err := a.Register(registry); err != nil {
		listener.Close()
		return err
	}

	handler, err := server.NewHandler(a.renamer, conf, logger, registry, registry)
	if err != nil {
		listener.Close()
		return err
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()

	logger.WithField("address", listener.Addr().String()).WithField("version", version.GetVersionString()).Info("listening")

	if addr := conf.PrometheusListenAddr; addr != "" {
		promListener, err := net.Listen("tcp", addr)
		if err != nil {
			srv.Close()
			return err
		}

		logger.WithField("address", addr).Info("starting prometheus listener")

		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		promSrv := &http.Server{Handler: promMux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := promSrv.Serve(promListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("unable to serve prometheus")
			}
		}()
		defer promSrv.Close()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// buildInfoGauge reports the version of the running binary.
func buildInfoGauge() prometheus.Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rename_project_build_info",
		Help: "Current build info for this service",
		ConstLabels: prometheus.Labels{
			"version": version.GetVersion(),
			"built":   version.GetBuildTime(),
		},
	})
	gauge.Set(1)
	return gauge
}
