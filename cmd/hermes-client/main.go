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

// Command hermes-client runs the consumer side of a Hermes pipeline:
// it drains a durable subscription, applies each event against a
// configured target plugin, parks failures in per-type error queues,
// and periodically retries them and sweeps the trashbin.
package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus/natsbus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/config"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/apply"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/cycle"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/fkpolicy"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/initsync"
	consschema "github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/schema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/trashbin"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/wiring"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/util/stopper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Fatal("hermes-client: exiting")
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "hermes-client",
		Short: "Runs the Hermes consumer pipeline (apply, error queue, trashbin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, metricsAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "/etc/hermes/hermes.yaml", "path to the YAML configuration document")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address to serve Prometheus metrics on")
	return root
}

func run(ctx context.Context, configPath, metricsAddr string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if doc.Client == nil {
		return errors.New("hermes-client: configuration has no hermes-client section")
	}
	if err := doc.Client.Preflight(); err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(doc.Client.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	ds, err := dataschema.Load(doc.Client.DataschemaFile)
	if err != nil {
		return err
	}

	policy, err := wiring.ParseFKPolicy(doc.Client.FKPolicy)
	if err != nil {
		return err
	}
	coalesce, err := wiring.ParseCoalesceMode(doc.Client.ErrorQueueMode)
	if err != nil {
		return err
	}

	node, ok := doc.ClientPlugin[doc.Client.Target]
	if !ok {
		return errors.Errorf("hermes-client: no hermes-client-%s section configured for target %q", doc.Client.Target, doc.Client.Target)
	}
	rawCfg, err := wiring.NodeToMap(node)
	if err != nil {
		return err
	}
	reg := wiring.BuildTargetRegistry()
	tgt, err := reg.Build(ctx, doc.Client.Target, rawCfg)
	if err != nil {
		return errors.Wrapf(err, "hermes-client: building target %q", doc.Client.Target)
	}
	defer tgt.Close()

	busConn, err := natsbus.Connect(ctx, natsbus.Config{
		URL:           doc.Client.Bus.URL,
		StreamName:    doc.Client.Bus.StreamName,
		SubjectPrefix: doc.Client.Bus.SubjectPrefix,
	})
	if err != nil {
		return err
	}
	sub, err := busConn.Subscribe(ctx, doc.Client.ConsumerGroup, ds.TypeNames())
	if err != nil {
		return err
	}
	defer sub.Close()

	cacheStore := cache.Store{Dir: filepath.Join(doc.Client.CacheDir, "cache")}
	localCache := consschema.Cache{}
	for _, t := range ds.Types {
		snap, err := cache.Load(cacheStore, t)
		if err != nil {
			return errors.Wrapf(err, "hermes-client: loading persisted cache for type %q", t.Name)
		}
		localCache[t.Name] = snap
	}

	trashRetention, err := time.ParseDuration(doc.Client.TrashRetention)
	if err != nil || trashRetention <= 0 {
		trashRetention = 24 * time.Hour
	}
	trash := trashbin.New(trashRetention, filepath.Join(doc.Client.CacheDir, "trashbin.json"))
	if err := trash.Load(); err != nil {
		return errors.Wrap(err, "hermes-client: loading persisted trashbin")
	}

	applier := &apply.Applier{
		Schema:   ds,
		Cache:    localCache,
		Targets:  apply.SingleTarget{Target: tgt},
		FKPolicy: fkpolicy.Engine{Schema: ds, Policy: policy},
		Trash:    trash,
	}
	runner := cycle.NewRunner(applier, sub, initsync.New(false), coalesce)

	pollInterval := durationOrDefault(doc.Client.PollInterval, time.Second)
	retryInterval := durationOrDefault(doc.Client.RetryInterval, time.Minute)
	sweepInterval := durationOrDefault(doc.Client.TrashSweepInterval, time.Minute)

	sctx := stopper.WithContext(ctx)
	sctx.Go(func(taskCtx context.Context) error {
		serveMetrics(taskCtx, metricsAddr)
		return nil
	})
	sctx.Go(func(taskCtx context.Context) error {
		return tickUntilStopped(sctx, retryInterval, func() {
			if n := runner.RetryErrors(taskCtx); n > 0 {
				log.WithField("drained", n).Info("hermes-client: retried error queue")
			}
		})
	})
	sctx.Go(func(taskCtx context.Context) error {
		return tickUntilStopped(sctx, sweepInterval, func() {
			if n := runner.SweepTrash(time.Now()); n > 0 {
				log.WithField("finalized", n).Info("hermes-client: swept trashbin")
				if err := trash.Save(); err != nil {
					log.WithError(err).Warn("hermes-client: persisting trashbin failed")
				}
			}
		})
	})
	sctx.Go(func(taskCtx context.Context) error {
		return tickUntilStopped(sctx, 5*time.Minute, func() {
			persistCache(cacheStore, ds, localCache)
		})
	})

	for {
		applied, err := runner.Poll(sctx, 64)
		if err != nil {
			log.WithError(err).Error("hermes-client: poll failed")
		} else if applied > 0 {
			log.WithField("applied", applied).Debug("hermes-client: poll completed")
		}

		select {
		case <-sctx.Stopping():
			persistCache(cacheStore, ds, localCache)
			return trash.Save()
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

func durationOrDefault(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// tickUntilStopped runs fn every interval until ctx is told to stop.
func tickUntilStopped(ctx *stopper.Context, interval time.Duration, fn func()) error {
	for {
		select {
		case <-ctx.Stopping():
			return nil
		case <-time.After(interval):
			fn()
		}
	}
}

// persistCache writes every type's current snapshot to disk so a
// restart resumes from the last applied state instead of replaying
// every row as an add.
func persistCache(store cache.Store, ds *dataschema.Schema, c consschema.Cache) {
	for _, t := range ds.Types {
		snap, ok := c[t.Name]
		if !ok {
			continue
		}
		if err := cache.Save(store, t, snap); err != nil {
			log.WithError(err).WithField("type", t.Name).Warn("hermes-client: persisting cache failed")
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("hermes-client: metrics server stopped")
	}
}
