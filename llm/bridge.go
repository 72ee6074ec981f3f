// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"time"
)

const (
	// DefaultBridgeBuffer is the delta channel capacity. Producers block
	// when the consumer falls behind.
	DefaultBridgeBuffer = 64

	// DefaultRecvTimeout bounds how long Recv waits for the next delta.
	DefaultRecvTimeout = 30 * time.Second
)

// StreamBridge adapts a blocking CompleteStream call to channel
// consumption. A dedicated goroutine drives the provider stream and
// pushes deltas onto a bounded channel; the final delta is always
// DeltaDone or DeltaError, after which the channel is closed.
type StreamBridge struct {
	deltas chan StreamDelta
	cancel context.CancelFunc
	done   chan struct{}

	resp *CompletionResponse
	err  error
}

// NewStreamBridge starts streaming the request on provider. The returned
// bridge owns a worker goroutine; callers must drain Deltas (or call
// Close) to guarantee the worker exits.
func NewStreamBridge(ctx context.Context, provider Provider, req CompletionRequest, buffer int) *StreamBridge {
	if buffer <= 0 {
		buffer = DefaultBridgeBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &StreamBridge{
		deltas: make(chan StreamDelta, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go b.run(ctx, provider, req)
	return b
}

func (b *StreamBridge) run(ctx context.Context, provider Provider, req CompletionRequest) {
	defer close(b.done)
	defer close(b.deltas)

	resp, err := provider.CompleteStream(ctx, req, func(delta StreamDelta) error {
		select {
		case b.deltas <- delta:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	b.resp = resp
	b.err = err

	if err != nil {
		// Best-effort error sentinel; the consumer may already be gone.
		select {
		case b.deltas <- StreamDelta{Type: DeltaError, Err: err.Error()}:
		case <-ctx.Done():
		}
	}
}

// Deltas returns the delta channel. It is closed after the terminal
// done or error delta.
func (b *StreamBridge) Deltas() <-chan StreamDelta { return b.deltas }

// Recv returns the next delta, waiting up to timeout (DefaultRecvTimeout
// when zero). The second return is false once the stream is exhausted.
func (b *StreamBridge) Recv(timeout time.Duration) (StreamDelta, bool, error) {
	if timeout <= 0 {
		timeout = DefaultRecvTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case delta, ok := <-b.deltas:
		return delta, ok, nil
	case <-timer.C:
		b.cancel()
		return StreamDelta{}, false, context.DeadlineExceeded
	}
}

// Wait blocks until the worker goroutine exits and returns the final
// aggregated response and error.
func (b *StreamBridge) Wait() (*CompletionResponse, error) {
	<-b.done
	return b.resp, b.err
}

// Close cancels the underlying stream and waits for the worker to exit.
// Safe to call multiple times.
func (b *StreamBridge) Close() {
	b.cancel()
	// Unblock a producer stuck on a full channel.
	for range b.deltas {
	}
	<-b.done
}
