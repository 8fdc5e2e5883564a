// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epam/eco-schema-catalog-sub001/metalog"
	"github.com/epam/eco-schema-catalog-sub001/metrics"
	"github.com/epam/eco-schema-catalog-sub001/store"
	"github.com/epam/eco-schema-catalog-sub001/util"
	"github.com/epam/eco-schema-catalog-sub001/util/limiter"
)

const defaultHttpBindPort = 9510

// Config service config
type Config struct {
	Store store.Config   `json:"store"`
	Log   metalog.Config `json:"log"`

	HttpBindPort    uint32    `json:"http_bind_port"`
	MaxProcessors   int       `json:"max_processors"`
	LogLevel        log.Level `json:"log_level"`
	ShutdownTimeout int       `json:"shutdown_timeout_s"`
}

func main() {
	config.Init("f", "", "metadatad.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	span, ctx := trace.StartSpanFromContext(context.Background(), "metadatad")
	metaLog, err := metalog.Open(ctx, &cfg.Log)
	if err != nil {
		log.Fatalf("open metadata log failed: %s", errors.Detail(err))
	}
	metaStore := store.New(&cfg.Store, metaLog)
	metaStore.RegisterListener(changeLogger(metaStore))
	if err := metaStore.Start(ctx); err != nil {
		metaLog.Close()
		log.Fatalf("start metadata store failed: %s", errors.Detail(err))
	}

	mux := http.NewServeMux()
	registerLogLevel(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", statsHandler(metaStore, metaLog))
	mux.HandleFunc("/write_limit", writeLimitHandler(metaStore))
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(int(cfg.HttpBindPort)),
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server exits: %s", err)
		}
	}()
	ip, err := util.GetLocalIp()
	if err != nil {
		ip = "0.0.0.0"
	}
	span.Infof("metadatad serving on %s:%d, log[%s]", ip, cfg.HttpBindPort, metaLog.ID())

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		span.Warnf("http server shutdown: %s", err)
	}
	metaStore.Stop()
	metaLog.Close()
	span.Infof("metadatad stopped, applied seq: %d", metaStore.Stats().AppliedSeq)
}

// changeLogger stands in for a search indexer: it re-reads each changed
// subject at its latest version and logs what an index would receive.
func changeLogger(s *store.Store) store.Listener {
	return store.ListenerFunc(func(ctx context.Context, subjects []string) {
		span := trace.SpanFromContextSafe(ctx)
		for _, subject := range subjects {
			versions := s.Versions(subject)
			if len(versions) == 0 {
				span.Infof("metadata of %s removed", subject)
				continue
			}
			latest := versions[len(versions)-1]
			coll, err := s.GetCollection(ctx, subject, latest)
			if err != nil {
				span.Warnf("read metadata of %s/%d failed: %s", subject, latest, err)
				continue
			}
			attrs := 0
			for _, v := range coll {
				attrs += len(s.Parser().Extract(v.Doc))
			}
			span.Infof("metadata of %s updated, version %d has %d keys and %d derived attributes",
				subject, latest, len(coll), attrs)
		}
	})
}

func statsHandler(s *store.Store, l *metalog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logStats, err := l.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Store store.Stats   `json:"store"`
			Log   metalog.Stats `json:"log"`
		}{s.Stats(), logStats})
	}
}

// writeLimitHandler reports the write limit on GET and replaces it with the
// JSON body of a POST.
func writeLimitHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			var cfg limiter.LimitConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.SetWriteLimit(cfg)
			log.Infof("metadata write limit changed to %+v", cfg)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats().WriteLimit)
	}
}

func registerLogLevel(mux *http.ServeMux) {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	mux.Handle(logLevelPath, logLevelHandler)
}

func modifyOpenFiles() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)

	if rLimit.Cur >= 102400 && rLimit.Max >= 102400 {
		return
	}

	rLimit.Cur = 102400
	rLimit.Max = 102400
	if err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warnf("setting rlimit failed: %s", err)
	}
}

func initConfig(cfg *Config) {
	if cfg.Log.Path == "" {
		cfg.Log.Path = "./run/metalog"
	}
	cfg.Log.KVOption.CreateIfMissing = true
	if cfg.HttpBindPort == 0 {
		cfg.HttpBindPort = defaultHttpBindPort
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
}
