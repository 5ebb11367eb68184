package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/escpos-status/config"
	"github.com/nixxel-company-limited/escpos-status/monitor"
	"github.com/nixxel-company-limited/escpos-status/probe"
	"github.com/nixxel-company-limited/escpos-status/server"
	"github.com/nixxel-company-limited/escpos-status/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize Viper to read from environment variables
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("PRINTER_ENDPOINT", "COM1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	logger := newLogger(v.GetString("LOG_LEVEL"), v.GetString("LOG_FORMAT"))

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			logger.WithError(err).Errorf("Failed to read config file %s", file)
			return 2
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		logger.WithError(err).Error("Invalid printer configuration")
		return 2
	}

	metrics := monitor.NewMetrics()
	opts := []probe.Option{probe.WithLogger(logger), probe.WithMetrics(metrics)}
	if v.GetBool("PRINTER_RELEASE_AFTER_QUERY") {
		opts = append(opts, probe.WithReleaseAfterQuery())
	}
	manager := probe.New(opts...)

	address := v.GetString("SERVER_ADDRESS")
	if address == "" {
		return report(manager, v.GetString("PRINTER_ENDPOINT"), cfg, logger)
	}
	endpoints := splitList(v.GetString("PRINTER_ENDPOINTS"))
	if len(endpoints) == 0 {
		endpoints = []string{v.GetString("PRINTER_ENDPOINT")}
	}
	return serve(manager, metrics, address, v.GetString("METRICS_ADDRESS"), endpoints, logger)
}

// splitList splits a comma or space separated list.
func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}

// report prints one status report and fails when the printer cannot print.
func report(manager *probe.Manager, endpoint string, cfg config.Configuration, logger *logrus.Logger) int {
	defer manager.Close()

	snap, err := manager.GetStatusWithConfig(endpoint, cfg)
	if err != nil {
		logger.WithError(err).Error("Status query failed")
		return 2
	}

	fmt.Print(status.FormatReport(snap, endpoint))
	if !snap.CanPrint {
		return 1
	}
	return 0
}

func serve(manager *probe.Manager, metrics *monitor.Metrics, address, metricsAddress string, endpoints []string, logger *logrus.Logger) int {
	logger.Infof("Server will listen on: %s, serving %s", address, strings.Join(endpoints, ", "))

	if metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.Infof("Metrics available on http://%s/metrics", metricsAddress)
			if err := http.ListenAndServe(metricsAddress, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	svr := server.NewWithLogger(manager, address, logger)
	svr.SetAllowedEndpoints(endpoints...)
	if err := svr.StartAsync(); err != nil {
		logger.WithError(err).Error("Failed to start server")
		manager.Close()
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Received %v, shutting down", sig)

	if err := svr.Stop(); err != nil {
		logger.WithError(err).Error("Shutdown failed")
		return 1
	}
	return 0
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	// Stdout carries the report in one-shot mode.
	logger.SetOutput(os.Stderr)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}
