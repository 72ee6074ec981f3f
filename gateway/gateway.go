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

// Package gateway mediates every tool call between the engine and the
// connector processes: pooled sessions, catalog discovery with caching,
// invoke-result caching for side-effect-free tools, and prewarm.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nexus/engine/cache"
	"nexus/engine/connectors/base"
	"nexus/engine/connectors/registry"
)

// InvokeOptions modifies a single Invoke call.
type InvokeOptions struct {
	// Identity is the opaque caller identity. It scopes sessions and
	// partitions the result cache so callers never see each other's data.
	Identity string

	// ForceRefresh invalidates any cached entry for this call and always
	// reaches the connector.
	ForceRefresh bool
}

// Gateway owns connector sessions and the metadata/result caches. All
// methods are safe for concurrent use.
type Gateway struct {
	registry  *registry.Registry
	transport Transport

	catalogs *cache.CatalogCache
	results  *cache.ResultCache
	schemas  *cache.SchemaCache

	// remote is the optional shared result tier, consulted after a local
	// miss. Nil when no Redis is configured.
	remote *cache.RedisCache

	sessions map[string]*session
	mu       sync.Mutex

	logger *log.Logger
}

// session is one pooled connection, exclusively held for one call at a
// time. The inner mutex provides the exclusivity.
type session struct {
	conn Conn
	mu   sync.Mutex
}

// New creates a gateway over the given registry, transport and cache
// store.
func New(reg *registry.Registry, transport Transport, store *cache.Cache) *Gateway {
	return &Gateway{
		registry:  reg,
		transport: transport,
		catalogs:  cache.NewCatalogCache(store),
		results:   cache.NewResultCache(store),
		schemas:   cache.NewSchemaCache(store),
		sessions:  make(map[string]*session),
		logger:    log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
}

// UseRemoteResults attaches a shared Redis tier for cacheable results so
// engine replicas can serve each other's calls. Must be called before the
// gateway takes traffic.
func (g *Gateway) UseRemoteResults(remote *cache.RedisCache) {
	g.remote = remote
}

// DiscoverTools returns the connector's tool catalog, serving from the
// catalog cache when fresh.
func (g *Gateway) DiscoverTools(ctx context.Context, connectorID string) ([]base.Tool, error) {
	if cached, ok := g.catalogs.Get(connectorID); ok {
		promGatewayCacheEvents.WithLabelValues("catalog", "hit").Inc()
		if tools, ok := cached.([]base.Tool); ok {
			return tools, nil
		}
	}
	promGatewayCacheEvents.WithLabelValues("catalog", "miss").Inc()

	desc, err := g.registry.Get(connectorID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sess, release, err := g.acquire(ctx, desc, "")
	if err != nil {
		promGatewayCalls.WithLabelValues(connectorID, "discover", "error").Inc()
		return nil, err
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, desc.CallTimeout())
	defer cancel()

	tools, err := sess.conn.ListTools(callCtx)
	if err != nil {
		g.evict(connectorID, "")
		promGatewayCalls.WithLabelValues(connectorID, "discover", "error").Inc()
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, base.NewTimeoutError(connectorID, "discover", desc.CallTimeout())
		}
		return nil, err
	}

	promGatewayCalls.WithLabelValues(connectorID, "discover", "success").Inc()
	promGatewayDuration.WithLabelValues(connectorID, "discover").Observe(float64(time.Since(start).Milliseconds()))

	g.catalogs.Set(connectorID, tools)
	for _, t := range tools {
		if t.InputSchema != nil {
			g.schemas.Set(connectorID+":"+t.Name, t.InputSchema)
		}
	}

	g.logger.Printf("Discovered %d tools for connector %s", len(tools), connectorID)
	return tools, nil
}

// Invoke executes one tool call. Cacheable tools are served from the
// result cache when a fresh non-error entry exists; otherwise the call
// goes to the connector with a single attempt. Error-shaped results are
// never cached.
func (g *Gateway) Invoke(ctx context.Context, inv base.ToolInvocation, opts InvokeOptions) (*base.ToolResult, error) {
	desc, err := g.registry.Get(inv.ConnectorID)
	if err != nil {
		return nil, err
	}

	cacheable := desc.IsCacheable(inv.Tool)
	var key string
	if cacheable {
		key = invokeKey(inv.ConnectorID, inv.Tool, opts.Identity, inv.Arguments)
		if opts.ForceRefresh {
			g.results.Delete(key)
			if g.remote != nil {
				_ = g.remote.Delete(ctx, key)
			}
		} else if cached, ok := g.results.Get(key); ok {
			if result, ok := cached.(*base.ToolResult); ok {
				promGatewayCacheEvents.WithLabelValues("result", "hit").Inc()
				out := *result
				out.Cached = true
				return &out, nil
			}
		} else if g.remote != nil {
			var shared base.ToolResult
			if g.remote.Get(ctx, key, &shared) && !shared.IsError {
				promGatewayCacheEvents.WithLabelValues("result", "remote_hit").Inc()
				g.results.Set(key, &shared)
				out := shared
				out.Cached = true
				return &out, nil
			}
		}
		promGatewayCacheEvents.WithLabelValues("result", "miss").Inc()
	}

	start := time.Now()
	sess, release, err := g.acquire(ctx, desc, opts.Identity)
	if err != nil {
		promGatewayCalls.WithLabelValues(inv.ConnectorID, "invoke", "error").Inc()
		return nil, err
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, desc.CallTimeout())
	defer cancel()

	outcome, err := sess.conn.CallTool(callCtx, inv.Tool, inv.Arguments)
	duration := time.Since(start)
	if err != nil {
		g.evict(inv.ConnectorID, opts.Identity)
		promGatewayCalls.WithLabelValues(inv.ConnectorID, "invoke", "error").Inc()
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, base.NewTimeoutError(inv.ConnectorID, "invoke "+inv.Tool, desc.CallTimeout())
		}
		return nil, err
	}

	result := &base.ToolResult{
		ConnectorID: inv.ConnectorID,
		Tool:        inv.Tool,
		Content:     outcome.Content,
		Structured:  outcome.Structured,
		IsError:     outcome.IsError || looksLikeError(outcome),
		Duration:    duration,
	}

	status := "success"
	if result.IsError {
		status = "tool_error"
	}
	promGatewayCalls.WithLabelValues(inv.ConnectorID, "invoke", status).Inc()
	promGatewayDuration.WithLabelValues(inv.ConnectorID, "invoke").Observe(float64(duration.Milliseconds()))

	if cacheable && !result.IsError {
		g.results.Set(key, result)
		if g.remote != nil {
			if err := g.remote.Set(ctx, key, result, cache.DefaultResultTTL); err != nil {
				g.logger.Printf("Remote result cache write failed for %s: %v", inv.ConnectorID, err)
			}
		}
	}

	return result, nil
}

// Prewarm primes the catalog cache for the given connectors. Failures
// are logged and skipped; prewarm never blocks startup on a bad
// connector.
func (g *Gateway) Prewarm(ctx context.Context, connectorIDs []string) {
	for _, id := range connectorIDs {
		if _, err := g.DiscoverTools(ctx, id); err != nil {
			g.logger.Printf("Prewarm failed for connector %s: %v", id, err)
		}
	}
}

// Close terminates all sessions for one connector.
func (g *Gateway) Close(connectorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, sess := range g.sessions {
		if strings.HasPrefix(key, connectorID+"\x00") {
			_ = sess.conn.Close()
			delete(g.sessions, key)
		}
	}
}

// CloseAll terminates every session. Called on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, sess := range g.sessions {
		_ = sess.conn.Close()
		delete(g.sessions, key)
	}
}

// acquire returns the pooled session for (connector, identity), creating
// one on first use, locked for exclusive use. The returned release func
// must be called exactly once.
func (g *Gateway) acquire(ctx context.Context, desc *base.ConnectorDescriptor, identity string) (*session, func(), error) {
	key := sessionKey(desc.ID, identity)

	g.mu.Lock()
	sess, ok := g.sessions[key]
	if !ok {
		sess = &session{}
		g.sessions[key] = sess
	}
	g.mu.Unlock()

	sess.mu.Lock()
	if sess.conn == nil {
		conn, err := g.transport.Connect(ctx, desc)
		if err != nil {
			sess.mu.Unlock()
			g.evict(desc.ID, identity)
			return nil, nil, err
		}
		sess.conn = conn
	}

	var once sync.Once
	release := func() {
		once.Do(sess.mu.Unlock)
	}
	return sess, release, nil
}

// evict drops a session from the pool after a transport failure so the
// next call reconnects.
func (g *Gateway) evict(connectorID, identity string) {
	key := sessionKey(connectorID, identity)
	g.mu.Lock()
	sess, ok := g.sessions[key]
	if ok {
		delete(g.sessions, key)
	}
	g.mu.Unlock()
	if ok && sess.conn != nil {
		_ = sess.conn.Close()
	}
}

func sessionKey(connectorID, identity string) string {
	return connectorID + "\x00" + identity
}

// invokeKey derives the deterministic result-cache key. encoding/json
// sorts map keys, so equal argument sets hash identically regardless of
// insertion order.
func invokeKey(connectorID, tool, identity string, args map[string]interface{}) string {
	canonical, err := json.Marshal(args)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", args))
	}
	h := sha256.New()
	h.Write([]byte(connectorID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// freshnessPhrases trigger an automatic force refresh when they appear
// in the user's message. "now" is matched as a whole word so "know" and
// "snowball" stay quiet.
var freshnessPhrases = []string{
	"latest", "refresh", "current",
	"up to date", "up-to-date", "most recent",
}

// NeedsFreshData reports whether the message asks for data fresh enough
// that cached results should be bypassed.
func NeedsFreshData(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range freshnessPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if word == "now" {
			return true
		}
	}
	return false
}

// looksLikeError applies structural heuristics for connectors that report
// failures in the payload instead of the protocol error flag.
func looksLikeError(outcome *CallOutcome) bool {
	if outcome.Structured != nil {
		if _, ok := outcome.Structured["error"]; ok {
			return true
		}
	}
	trimmed := strings.TrimSpace(outcome.Content)
	return strings.HasPrefix(trimmed, "Error:") || strings.HasPrefix(trimmed, "error:")
}
