// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"nexus/engine/cache"
	"nexus/engine/connectors/base"
	"nexus/engine/connectors/registry"
)

// fakeConn is an in-memory connector session.
type fakeConn struct {
	tools  []base.Tool
	callFn func(tool string, args map[string]interface{}) (*CallOutcome, error)

	mu        sync.Mutex
	listCalls int
	callCalls int
	closed    bool
}

func (f *fakeConn) ListTools(_ context.Context) ([]base.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.tools, nil
}

func (f *fakeConn) CallTool(_ context.Context, tool string, args map[string]interface{}) (*CallOutcome, error) {
	f.mu.Lock()
	f.callCalls++
	f.mu.Unlock()
	if f.callFn != nil {
		return f.callFn(tool, args)
	}
	return &CallOutcome{Content: "ok:" + tool}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.callCalls
}

// fakeTransport hands out one shared fakeConn per connector.
type fakeTransport struct {
	mu       sync.Mutex
	conns    map[string]*fakeConn
	connects int
	connErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*fakeConn)}
}

func (t *fakeTransport) Connect(_ context.Context, desc *base.ConnectorDescriptor) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connErr != nil {
		return nil, t.connErr
	}
	conn, ok := t.conns[desc.ID]
	if !ok {
		conn = &fakeConn{tools: []base.Tool{{Name: "list_objects"}, {Name: "get_object"}}}
		t.conns[desc.ID] = conn
	}
	return conn, nil
}

func newTestGateway(t *testing.T, desc *base.ConnectorDescriptor) (*Gateway, *fakeTransport) {
	t.Helper()

	reg := registry.NewRegistry()
	if err := reg.Register(desc); err != nil {
		t.Fatal(err)
	}

	store := cache.New(100, 0)
	t.Cleanup(store.Close)

	transport := newFakeTransport()
	return New(reg, transport, store), transport
}

func s3Descriptor() *base.ConnectorDescriptor {
	return &base.ConnectorDescriptor{
		ID:             "s3",
		Command:        []string{"/usr/bin/true"},
		CacheableTools: []string{"list_objects"},
	}
}

func TestDiscoverToolsCachesCatalog(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()

	tools, err := gw.DiscoverTools(ctx, "s3")
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}

	if _, err := gw.DiscoverTools(ctx, "s3"); err != nil {
		t.Fatal(err)
	}

	listCalls, _ := transport.conns["s3"].counts()
	if listCalls != 1 {
		t.Errorf("ListTools called %d times, want 1 (second discovery must hit cache)", listCalls)
	}
}

func TestInvokeCachesNonErrorResults(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()
	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: map[string]interface{}{"bucket": "b"}}

	first, err := gw.Invoke(ctx, inv, InvokeOptions{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first call must not be marked cached")
	}

	second, err := gw.Invoke(ctx, inv, InvokeOptions{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("second call must be a cache hit")
	}

	_, callCalls := transport.conns["s3"].counts()
	if callCalls != 1 {
		t.Errorf("CallTool called %d times, want 1", callCalls)
	}
}

func TestInvokeCacheKeyIgnoresArgOrder(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()

	argsA := map[string]interface{}{"bucket": "b", "prefix": "logs/", "limit": 10}
	argsB := map[string]interface{}{"limit": 10, "prefix": "logs/", "bucket": "b"}

	if keyA, keyB := invokeKey("s3", "list_objects", "alice", argsA), invokeKey("s3", "list_objects", "alice", argsB); keyA != keyB {
		t.Fatalf("cache keys differ for equal argument sets: %s vs %s", keyA, keyB)
	}

	if _, err := gw.Invoke(ctx, base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: argsA}, InvokeOptions{Identity: "alice"}); err != nil {
		t.Fatal(err)
	}
	second, err := gw.Invoke(ctx, base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: argsB}, InvokeOptions{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("reordered-args call must be a cache hit")
	}

	_, callCalls := transport.conns["s3"].counts()
	if callCalls != 1 {
		t.Errorf("CallTool called %d times, want 1", callCalls)
	}
}

func TestInvokeKeyPartitionsByIdentity(t *testing.T) {
	args := map[string]interface{}{"bucket": "b"}
	if invokeKey("s3", "list_objects", "alice", args) == invokeKey("s3", "list_objects", "bob", args) {
		t.Error("different identities must produce different cache keys")
	}
}

func TestInvokeForceRefreshBypassesCache(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()
	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: map[string]interface{}{}}

	if _, err := gw.Invoke(ctx, inv, InvokeOptions{}); err != nil {
		t.Fatal(err)
	}

	refreshed, err := gw.Invoke(ctx, inv, InvokeOptions{ForceRefresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Cached {
		t.Error("force refresh must not serve from cache")
	}

	_, callCalls := transport.conns["s3"].counts()
	if callCalls != 2 {
		t.Errorf("CallTool called %d times, want 2 (force refresh must reach the connector)", callCalls)
	}
}

func TestInvokeNeverCachesErrorResults(t *testing.T) {
	desc := s3Descriptor()
	gw, transport := newTestGateway(t, desc)
	ctx := context.Background()

	transport.conns["s3"] = &fakeConn{
		tools: []base.Tool{{Name: "list_objects"}},
		callFn: func(string, map[string]interface{}) (*CallOutcome, error) {
			return &CallOutcome{Content: "Error: access denied", IsError: true}, nil
		},
	}

	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: map[string]interface{}{}}
	for i := 0; i < 2; i++ {
		res, err := gw.Invoke(ctx, inv, InvokeOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Fatal("expected error-shaped result")
		}
		if res.Cached {
			t.Error("error results must never be served from cache")
		}
	}

	_, callCalls := transport.conns["s3"].counts()
	if callCalls != 2 {
		t.Errorf("CallTool called %d times, want 2", callCalls)
	}
}

func TestInvokeUncacheableToolSkipsCache(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()
	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "get_object", Arguments: map[string]interface{}{"key": "a"}}

	for i := 0; i < 2; i++ {
		if _, err := gw.Invoke(ctx, inv, InvokeOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	_, callCalls := transport.conns["s3"].counts()
	if callCalls != 2 {
		t.Errorf("CallTool called %d times, want 2 (get_object is not cacheable)", callCalls)
	}
}

func TestInvokeTimeoutReturnsTimeoutError(t *testing.T) {
	desc := s3Descriptor()
	desc.Timeout = 30 * time.Millisecond
	gw, transport := newTestGateway(t, desc)

	transport.conns["s3"] = &fakeConn{
		callFn: func(string, map[string]interface{}) (*CallOutcome, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, context.DeadlineExceeded
		},
	}

	_, err := gw.Invoke(context.Background(), base.ToolInvocation{ConnectorID: "s3", Tool: "get_object"}, InvokeOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var te *base.TimeoutError
	if !errors.As(err, &te) {
		t.Errorf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestConnectFailureReturnsConnectionError(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	transport.connErr = fmt.Errorf("spawn failed")

	_, err := gw.DiscoverTools(context.Background(), "s3")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCloseTearsDownSessions(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()

	if _, err := gw.DiscoverTools(ctx, "s3"); err != nil {
		t.Fatal(err)
	}
	gw.Close("s3")

	if !transport.conns["s3"].closed {
		t.Error("expected session to be closed")
	}
}

func TestSessionReusedAcrossCalls(t *testing.T) {
	gw, transport := newTestGateway(t, s3Descriptor())
	ctx := context.Background()
	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "get_object", Arguments: map[string]interface{}{"key": "a"}}

	for i := 0; i < 3; i++ {
		if _, err := gw.Invoke(ctx, inv, InvokeOptions{Identity: "alice"}); err != nil {
			t.Fatal(err)
		}
	}

	transport.mu.Lock()
	connects := transport.connects
	transport.mu.Unlock()
	if connects != 1 {
		t.Errorf("transport connected %d times, want 1 (session pooling)", connects)
	}
}

func TestInvokeServesFromRemoteTier(t *testing.T) {
	mr := miniredis.RunT(t)
	remote, err := cache.NewRedisCache(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = remote.Close() })

	ctx := context.Background()
	inv := base.ToolInvocation{ConnectorID: "s3", Tool: "list_objects", Arguments: map[string]interface{}{"bucket": "b"}}

	first, transportA := newTestGateway(t, s3Descriptor())
	first.UseRemoteResults(remote)
	if _, err := first.Invoke(ctx, inv, InvokeOptions{Identity: "alice"}); err != nil {
		t.Fatal(err)
	}
	_, callsA := transportA.conns["s3"].counts()
	if callsA != 1 {
		t.Fatalf("CallTool called %d times on first replica, want 1", callsA)
	}

	// A second replica with a cold local store must be served by Redis
	// without touching the connector.
	second, transportB := newTestGateway(t, s3Descriptor())
	second.UseRemoteResults(remote)
	res, err := second.Invoke(ctx, inv, InvokeOptions{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached {
		t.Error("second replica must serve the call from the remote tier")
	}
	if conn, ok := transportB.conns["s3"]; ok {
		if _, calls := conn.counts(); calls != 0 {
			t.Errorf("CallTool called %d times on second replica, want 0", calls)
		}
	}
}

func TestNeedsFreshData(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"give me the latest file list", true},
		{"refresh the ticket view", true},
		{"what is in the bucket now", true},
		{"is this up to date", true},
		{"list my buckets", false},
		{"do you know the answer", false},
		{"tell me about snowball sampling", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := NeedsFreshData(tt.message); got != tt.want {
				t.Errorf("NeedsFreshData(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestLooksLikeError(t *testing.T) {
	tests := []struct {
		name    string
		outcome CallOutcome
		want    bool
	}{
		{"error prefix", CallOutcome{Content: "Error: no such bucket"}, true},
		{"lowercase prefix", CallOutcome{Content: "error: denied"}, true},
		{"structured error key", CallOutcome{Structured: map[string]interface{}{"error": "boom"}}, true},
		{"plain content", CallOutcome{Content: "3 objects found"}, false},
		{"error word mid-sentence", CallOutcome{Content: "no errors were found"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeError(&tt.outcome); got != tt.want {
				t.Errorf("looksLikeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
