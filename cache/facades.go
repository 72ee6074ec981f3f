// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"time"
)

// Default TTLs for the four engine namespaces. Tool catalogs change
// rarely; call results are volatile and read-mostly, so freshness wins
// over correctness.
const (
	DefaultCatalogTTL = 5 * time.Minute
	DefaultResultTTL  = 30 * time.Second
	DefaultSchemaTTL  = 2 * time.Minute
	DefaultSessionTTL = 30 * time.Second
)

// namespaced prefixes keys so the four façades can share one store.
type namespaced struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
}

func (n *namespaced) key(k string) string { return n.prefix + ":" + k }

// Get returns the value stored under k in this namespace.
func (n *namespaced) Get(k string) (interface{}, bool) {
	return n.cache.Get(n.key(k))
}

// Set stores v under k with the namespace default TTL.
func (n *namespaced) Set(k string, v interface{}) {
	n.cache.Set(n.key(k), v, n.ttl)
}

// SetWithTTL stores v under k with an explicit TTL.
func (n *namespaced) SetWithTTL(k string, v interface{}, ttl time.Duration) {
	n.cache.Set(n.key(k), v, ttl)
}

// Delete removes k from this namespace.
func (n *namespaced) Delete(k string) bool {
	return n.cache.Delete(n.key(k))
}

// Exists reports presence without touching LRU order.
func (n *namespaced) Exists(k string) bool {
	return n.cache.Exists(n.key(k))
}

// CatalogCache stores discovered tool catalogs per connector (long TTL).
type CatalogCache struct{ namespaced }

// ResultCache stores side-effect-free tool call results (short TTL).
// Error results are never stored; that is enforced by the gateway.
type ResultCache struct{ namespaced }

// SchemaCache stores tool input schemas (medium TTL).
type SchemaCache struct{ namespaced }

// SessionCache stores in-memory conversation transcripts (short TTL).
type SessionCache struct{ namespaced }

// NewCatalogCache creates the tool-catalog façade over c.
func NewCatalogCache(c *Cache) *CatalogCache {
	return &CatalogCache{namespaced{cache: c, prefix: "catalog", ttl: DefaultCatalogTTL}}
}

// NewResultCache creates the call-result façade over c.
func NewResultCache(c *Cache) *ResultCache {
	return &ResultCache{namespaced{cache: c, prefix: "result", ttl: DefaultResultTTL}}
}

// NewSchemaCache creates the schema façade over c.
func NewSchemaCache(c *Cache) *SchemaCache {
	return &SchemaCache{namespaced{cache: c, prefix: "schema", ttl: DefaultSchemaTTL}}
}

// NewSessionCache creates the conversation-session façade over c.
func NewSessionCache(c *Cache) *SessionCache {
	return &SessionCache{namespaced{cache: c, prefix: "session", ttl: DefaultSessionTTL}}
}
