// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command hermes-server runs the producer side of a Hermes pipeline:
// it ticks cycle.Run on an interval, publishing each cycle's changes
// to the messagebus.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus/natsbus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/config"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cycle"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/wiring"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/util/mailer"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/util/stopper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Fatal("hermes-server: exiting")
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "hermes-server",
		Short: "Runs the Hermes producer pipeline (fetch, merge, integrity, diff, emit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, metricsAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "/etc/hermes/hermes.yaml", "path to the YAML configuration document")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	return root
}

func run(ctx context.Context, configPath, metricsAddr string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if doc.Server == nil {
		return errors.New("hermes-server: configuration has no hermes-server section")
	}
	if err := doc.Server.Preflight(); err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(doc.Server.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	schema, err := dataschema.Load(doc.Server.DataschemaFile)
	if err != nil {
		return err
	}

	tick, err := time.ParseDuration(doc.Server.TickInterval)
	if err != nil || tick <= 0 {
		tick = 30 * time.Second
	}

	bus, err := natsbus.Connect(ctx, natsbus.Config{
		URL:           doc.Server.Bus.URL,
		StreamName:    doc.Server.Bus.StreamName,
		SubjectPrefix: doc.Server.Bus.SubjectPrefix,
	})
	if err != nil {
		return err
	}

	// No per-source driver configuration (which source name talks SQL
	// vs. LDAP, and with what connection settings) is read: the driver
	// set is built empty, so every source's fetch fails loudly at
	// merge time instead of silently doing nothing.
	drivers, err := wiring.BuildDrivers(ctx, nil)
	if err != nil {
		return err
	}
	defer drivers.Close()

	store := cache.Store{Dir: doc.Server.CacheDir}
	reg := projection.NewRegistry()
	committer := wiring.DriverCommitter{Drivers: drivers}
	alerter := mailer.New(mailer.Config{
		SMTPAddr:        doc.Server.MailSMTPAddr,
		From:            doc.Server.MailFrom,
		To:              doc.Server.MailTo,
		Subject:         "hermes-server alert",
		MailtextMaxSize: doc.Server.MailtextMaxSize,
	})

	sctx := stopper.WithContext(ctx)
	sctx.Go(func(taskCtx context.Context) error {
		serveMetrics(taskCtx, metricsAddr)
		return nil
	})

	var step int64
	for {
		step++
		result, err := cycle.Run(sctx, schema, drivers, noVars, store, reg, step, bus, committer, alerter)
		if err != nil {
			log.WithError(err).WithField("step", step).Error("hermes-server: cycle failed")
		} else {
			log.WithFields(log.Fields{"step": step, "types": len(result.Changes)}).Info("hermes-server: cycle completed")
		}
		if err := alerter.Flush(); err != nil {
			log.WithError(err).Warn("hermes-server: alert flush failed")
		}

		select {
		case <-sctx.Stopping():
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(tick):
		}
	}
}

// noVars is the default merge.VarsFunc: no source currently needs
// extra fetch variables beyond its query template.
func noVars(dataschema.SourceBinding) datasource.Vars { return nil }

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("hermes-server: metrics server stopped")
	}
}
