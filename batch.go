package laiqclient

import (
	"context"
	"sync"
	"time"
)

// Window bounds enforced by the self-tuner.
const (
	minBatchWindow = 50 * time.Millisecond
	maxBatchWindow = 200 * time.Millisecond
)

// BatchRequests runs the given requests concurrently and returns their
// outcomes in submission order. A failed member does not abort the rest.
func (c *Client) BatchRequests(ctx context.Context, reqs []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	c.batched.Add(int64(len(reqs)))
	if c.metrics != nil {
		c.metrics.RecordBatchSize(len(reqs))
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req BatchRequest) {
			defer wg.Done()
			resp, err := c.Request(ctx, req.Endpoint, req.Options)
			results[i] = BatchResult{Success: err == nil, Response: resp, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

// Schedule enqueues one request into the batching window. The call blocks
// until its window flushes and the request settles; requests landing in
// the same window are dispatched together. A full window (maxBatchSize
// members) flushes immediately.
func (c *Client) Schedule(ctx context.Context, endpoint string, opts *RequestOptions) (*Response, error) {
	item := &batchItem{
		ctx:      ctx,
		endpoint: endpoint,
		opts:     opts,
		done:     make(chan batchSettled, 1),
	}
	c.batcher.enqueue(item)

	select {
	case settled := <-item.done:
		return settled.resp, settled.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchWindow is the current accumulation window.
func (c *Client) BatchWindow() time.Duration {
	return time.Duration(c.batchWindow.Load())
}

type batchSettled struct {
	resp *Response
	err  error
}

type batchItem struct {
	ctx      context.Context
	endpoint string
	opts     *RequestOptions
	done     chan batchSettled
}

// batcher accumulates scheduled requests and flushes them per window or
// when the window fills.
type batcher struct {
	c *Client

	mu      sync.Mutex
	pending []*batchItem
	timer   *time.Timer
}

func newBatcher(c *Client) *batcher {
	return &batcher{c: c}
}

func (b *batcher) enqueue(item *batchItem) {
	b.mu.Lock()
	b.pending = append(b.pending, item)

	if len(b.pending) >= b.c.maxBatchSize {
		batch := b.takeLocked()
		b.mu.Unlock()
		go b.flush(batch)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.c.BatchWindow(), func() {
			b.mu.Lock()
			batch := b.takeLocked()
			b.mu.Unlock()
			b.flush(batch)
		})
	}
	b.mu.Unlock()
}

// takeLocked drains the pending window; the caller holds b.mu.
func (b *batcher) takeLocked() []*batchItem {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *batcher) flush(batch []*batchItem) {
	if len(batch) == 0 {
		return
	}
	b.c.batched.Add(int64(len(batch)))
	if b.c.metrics != nil {
		b.c.metrics.RecordBatchSize(len(batch))
	}

	var wg sync.WaitGroup
	for _, item := range batch {
		wg.Add(1)
		go func(item *batchItem) {
			defer wg.Done()
			resp, err := b.c.Request(item.ctx, item.endpoint, item.opts)
			item.done <- batchSettled{resp: resp, err: err}
		}(item)
	}
	wg.Wait()
}

// tuneLoop periodically inspects failure and hit rates and nudges the
// batching window and the retry ceiling. A struggling backend gets a
// wider window and fewer retries; a healthy one the opposite.
func (c *Client) tuneLoop() {
	ticker := time.NewTicker(c.tuneInterval)
	defer ticker.Stop()

	var lastTotal, lastFailures int64
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		total := c.totalRequests.Load()
		failures := c.failures.Load()
		deltaTotal := total - lastTotal
		deltaFailures := failures - lastFailures
		lastTotal, lastFailures = total, failures

		if deltaTotal == 0 {
			continue
		}
		failureRate := float64(deltaFailures) / float64(deltaTotal)

		window := c.BatchWindow()
		retries := c.recovery.MaxRetries()
		switch {
		case failureRate > 0.2:
			window += 25 * time.Millisecond
			retries--
		case failureRate < 0.05:
			window -= 25 * time.Millisecond
			retries++
		default:
			continue
		}

		if window < minBatchWindow {
			window = minBatchWindow
		}
		if window > maxBatchWindow {
			window = maxBatchWindow
		}
		c.batchWindow.Store(int64(window))
		c.recovery.SetMaxRetries(retries)

		if c.logger != nil {
			c.logger.Info("Self-tuned batching parameters",
				"failure_rate", failureRate,
				"batch_window", window,
				"max_retries", c.recovery.MaxRetries())
		}
	}
}
