// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gcpkit/cloud-go/internal"
	"github.com/gcpkit/cloud-go/spanner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Commit rows from concurrent workers and report pool statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			logger := log.New(cmd.ErrOrStderr(), "spanload: ", log.LstdFlags)
			return run(ctx, cfg, logger, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd)
	return cmd
}

// clientOptions turns the connection settings of cfg into client options.
func clientOptions(cfg config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.AccessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		opts = append(opts, option.WithTokenSource(ts))
	}
	return opts
}

func run(ctx context.Context, cfg config, logger *log.Logger, out io.Writer) error {
	client, err := spanner.NewClientWithConfig(ctx, cfg.Database, spanner.ClientConfig{
		SessionPoolConfig: spanner.SessionPoolConfig{
			MinOpened: cfg.MinSessions,
			MaxOpened: cfg.MaxSessions,
		},
		Logger:    logger,
		UserAgent: "spanload/" + internal.Version,
	}, clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Printf("closing client: %v", cerr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		newPoolCollector(cfg.Database, client.SessionPoolStats),
	)
	metrics := newLoadMetrics(reg)
	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	logger.Printf("running %d workers against %s for %v", cfg.Workers, cfg.Database, cfg.Duration)
	stats, err := runLoad(ctx, client, cfg, metrics)
	printSummary(out, stats, client.SessionPoolStats())
	return err
}

// serveMetrics serves the registry at /metrics on addr until the returned
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server: %v", err)
		}
	}()
	logger.Printf("serving metrics on http://%s/metrics", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
