// Copyright 2026 Nexus
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

// nexusd is a development harness that wires the engine behind a small
// HTTP surface. It is not the product web layer; auth, tenancy and chat
// history live elsewhere.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"nexus/engine/cache"
	"nexus/engine/config"
	"nexus/engine/connectors/registry"
	"nexus/engine/gateway"
	"nexus/engine/llm"
	"nexus/engine/orchestrator"
	"nexus/engine/router"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine config file")
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		log.Fatalf("[NEXUSD] %v", err)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:     apiKey,
		BaseURL:    cfg.Provider.BaseURL,
		APIVersion: cfg.Provider.APIVersion,
		Model:      cfg.Provider.Model,
		FastModel:  cfg.Provider.FastModel,
		Timeout:    time.Duration(cfg.Provider.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("provider setup failed: %w", err)
	}

	reg := registry.NewRegistry()
	for _, desc := range cfg.Descriptors() {
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("connector registration failed: %w", err)
		}
	}

	store := cache.New(cfg.Cache.CapacityOrDefault(), cfg.Cache.JanitorInterval())
	defer store.Close()

	gw := gateway.New(reg, gateway.NewStdioTransport(), store)
	defer gw.CloseAll()

	if cfg.Redis.Addr != "" {
		remote, err := cache.NewRedisCache(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis setup failed: %w", err)
		}
		defer func() {
			_ = remote.Close()
		}()
		gw.UseRemoteResults(remote)
		log.Printf("[NEXUSD] Remote result cache enabled at %s", cfg.Redis.Addr)
	}

	rt := router.New(reg, gw, provider, cfg.Provider.FastModel)

	var orchOpts []orchestrator.Option
	if cfg.Orchestrator.HighConfidence > 0 {
		orchOpts = append(orchOpts, orchestrator.WithHighConfidence(cfg.Orchestrator.HighConfidence))
	}
	if cfg.Orchestrator.MinConfidence > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMinConfidence(cfg.Orchestrator.MinConfidence))
	}
	if cfg.Orchestrator.MaxSources > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMaxSources(cfg.Orchestrator.MaxSources))
	}
	if cfg.Orchestrator.SourceTimeout() > 0 {
		orchOpts = append(orchOpts, orchestrator.WithSourceTimeout(cfg.Orchestrator.SourceTimeout()))
	}
	orch := orchestrator.New(reg, gw, rt, provider, orchOpts...)

	// Prime catalogs for configured connectors in the background so the
	// first request does not pay discovery latency.
	go func() {
		prewarmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		gw.Prewarm(prewarmCtx, reg.PrewarmIDs())
	}()

	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(orch, store, cache.NewSessionCache(store)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[NEXUSD] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("[NEXUSD] Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newHandler(orch *orchestrator.Orchestrator, store *cache.Cache, sessions *cache.SessionCache) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/query", handleQuery(orch, sessions)).Methods("POST")
	r.HandleFunc("/query/stream", handleQueryStream(orch)).Methods("POST")
	r.HandleFunc("/sources/suggest", handleSuggest(orch)).Methods("GET")
	r.HandleFunc("/cache/stats", handleCacheStats(store)).Methods("GET")
	r.HandleFunc("/cache/clear", handleCacheClear(store)).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
}

func handleQuery(orch *orchestrator.Orchestrator, sessions *cache.SessionCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		// Short-lived per-identity transcript so follow-up questions can
		// complete missing parameters from recent turns.
		if req.Identity != "" && len(req.History) == 0 {
			if cached, ok := sessions.Get(req.Identity); ok {
				if history, ok := cached.([]llm.Message); ok {
					req.History = history
				}
			}
		}

		resp, err := orch.Query(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		if req.Identity != "" {
			history := append(req.History,
				llm.Message{Role: llm.RoleUser, Content: req.Query},
				llm.Message{Role: llm.RoleAssistant, Content: resp.Answer},
			)
			sessions.Set(req.Identity, history)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// handleQueryStream serves query progress as server-sent events.
func handleQueryStream(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
			return
		}

		events, err := orch.QueryStream(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func handleSuggest(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing 'q' parameter"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sources":      orch.SuggestSources(r.Context(), query),
			"multi_source": orch.IsMultiSource(query),
		})
	}
}

func handleCacheStats(store *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, store.GetStats())
	}
}

func handleCacheClear(store *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		store.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
