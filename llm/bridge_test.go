// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// streamFunc adapts a function to the Provider interface for stream
// tests; Complete and health are irrelevant here.
type streamFunc func(ctx context.Context, handler StreamHandler) (*CompletionResponse, error)

func (f streamFunc) Name() string { return "stream-func" }

func (f streamFunc) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f streamFunc) CompleteStream(ctx context.Context, _ CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	return f(ctx, handler)
}

func (f streamFunc) IsHealthy() bool { return true }

func TestBridgeDeliversDeltasInOrder(t *testing.T) {
	provider := streamFunc(func(_ context.Context, handler StreamHandler) (*CompletionResponse, error) {
		for _, word := range []string{"one ", "two ", "three"} {
			if err := handler(StreamDelta{Type: DeltaText, Text: word}); err != nil {
				return nil, err
			}
		}
		if err := handler(StreamDelta{Type: DeltaDone}); err != nil {
			return nil, err
		}
		return &CompletionResponse{Text: "one two three"}, nil
	})

	bridge := NewStreamBridge(context.Background(), provider, CompletionRequest{}, 0)

	var text strings.Builder
	sawDone := false
	for delta := range bridge.Deltas() {
		switch delta.Type {
		case DeltaText:
			text.WriteString(delta.Text)
		case DeltaDone:
			sawDone = true
		}
	}

	if text.String() != "one two three" {
		t.Errorf("text = %q, want deltas reassembled in order", text.String())
	}
	if !sawDone {
		t.Error("expected the done sentinel before channel close")
	}

	resp, err := bridge.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "one two three" {
		t.Errorf("final response = %q", resp.Text)
	}
}

func TestBridgeSurfacesStreamError(t *testing.T) {
	provider := streamFunc(func(_ context.Context, handler StreamHandler) (*CompletionResponse, error) {
		if err := handler(StreamDelta{Type: DeltaText, Text: "partial"}); err != nil {
			return nil, err
		}
		return nil, errors.New("connection reset")
	})

	bridge := NewStreamBridge(context.Background(), provider, CompletionRequest{}, 0)

	var last StreamDelta
	for delta := range bridge.Deltas() {
		last = delta
	}

	if last.Type != DeltaError {
		t.Errorf("last delta = %s, want the error sentinel", last.Type)
	}
	if _, err := bridge.Wait(); err == nil {
		t.Error("expected Wait to return the stream error")
	}
}

func TestBridgeRecvTimeoutCancelsWorker(t *testing.T) {
	workerExited := make(chan struct{})
	provider := streamFunc(func(ctx context.Context, handler StreamHandler) (*CompletionResponse, error) {
		defer close(workerExited)
		<-ctx.Done() // Never produces a delta.
		return nil, ctx.Err()
	})

	bridge := NewStreamBridge(context.Background(), provider, CompletionRequest{}, 0)

	_, _, err := bridge.Recv(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	select {
	case <-workerExited:
	case <-time.After(time.Second):
		t.Fatal("worker goroutine did not exit after Recv timeout")
	}
}

func TestBridgeCloseUnblocksProducer(t *testing.T) {
	workerExited := make(chan struct{})
	provider := streamFunc(func(ctx context.Context, handler StreamHandler) (*CompletionResponse, error) {
		defer close(workerExited)
		// Far more deltas than the buffer holds; the producer must not
		// leak when the consumer walks away.
		for i := 0; i < 10_000; i++ {
			if err := handler(StreamDelta{Type: DeltaText, Text: "x"}); err != nil {
				return nil, err
			}
		}
		return &CompletionResponse{}, nil
	})

	bridge := NewStreamBridge(context.Background(), provider, CompletionRequest{}, 4)
	bridge.Close()

	select {
	case <-workerExited:
	case <-time.After(time.Second):
		t.Fatal("worker goroutine leaked after Close")
	}
}

func TestBridgeCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := streamFunc(func(ctx context.Context, handler StreamHandler) (*CompletionResponse, error) {
		for {
			if err := handler(StreamDelta{Type: DeltaText, Text: "tick"}); err != nil {
				return nil, err
			}
		}
	})

	bridge := NewStreamBridge(ctx, provider, CompletionRequest{}, 2)

	// Drain a few then cancel mid-stream.
	for i := 0; i < 3; i++ {
		if _, ok, err := bridge.Recv(time.Second); err != nil || !ok {
			t.Fatalf("recv %d failed: ok=%v err=%v", i, ok, err)
		}
	}
	cancel()

	done := make(chan struct{})
	go func() {
		bridge.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bridge did not shut down after context cancellation")
	}
}
