// Package batch collects frames from multiple streams sharing one
// batching-capable inference engine and submits them together, up to the
// model's batch size or a submission deadline, whichever comes first.
package batch

import (
	"sync"
	"time"

	"github.com/hailostream/eventd/internal/inference"
	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/perfstats"
	"github.com/hailostream/eventd/internal/types"
)

// DefaultDeadline is the maximum time a coordinator waits, after its first
// queued frame, before running an under-full batch.
const DefaultDeadline = 50 * time.Millisecond

type pendingFrame struct {
	streamID    string
	rgb         []byte
	width       int
	height      int
	submittedAt time.Time
	confidence  float32
	callback    func([]types.Detection)
}

// Coordinator batches frames destined for one shared inference engine,
// identified by HEF path. The engine itself is never stored here -- it is
// looked up from the engine registry for the duration of one batch, per
// SPEC_FULL.md 9's weak-back-reference ownership fix.
type Coordinator struct {
	hefPath   string
	batchSize int
	deadline  time.Duration
	log       log.Log

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []pendingFrame
	running   bool
	batchFill perfstats.Accumulator
}

// NewCoordinator creates and starts a coordinator for the given HEF path.
func NewCoordinator(hefPath string, batchSize int, deadline time.Duration, logger log.Log) *Coordinator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if batchSize < 1 {
		batchSize = 1
	}
	c := &Coordinator{hefPath: hefPath, batchSize: batchSize, deadline: deadline, log: logger, running: true}
	c.cond = sync.NewCond(&c.mu)
	go c.workerLoop()
	return c
}

// SubmitFrame queues one frame for batched inference. callback is invoked
// with the decoded detections (possibly empty) once the batch it lands in
// has run. SubmitFrame never blocks on inference.
func (c *Coordinator) SubmitFrame(streamID string, rgb []byte, width, height int, confidence float32, callback func([]types.Detection)) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.log.Warnf("SubmitFrame(%s) after Stop: dropping frame", streamID)
		return
	}
	c.queue = append(c.queue, pendingFrame{
		streamID: streamID, rgb: rgb, width: width, height: height,
		submittedAt: time.Now(), confidence: confidence, callback: callback,
	})
	c.mu.Unlock()
	c.cond.Signal()
}

// Stop halts the worker after draining whatever remains in the queue.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Coordinator) workerLoop() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && c.running {
			c.cond.Wait()
		}
		if !c.running {
			for len(c.queue) > 0 {
				batch := c.popBatchLocked()
				c.mu.Unlock()
				c.runBatch(batch)
				c.mu.Lock()
			}
			c.mu.Unlock()
			return
		}
		deadlineAt := c.queue[0].submittedAt.Add(c.deadline)
		for len(c.queue) < c.batchSize && c.running {
			wait := time.Until(deadlineAt)
			if wait <= 0 {
				break
			}
			waitDone := make(chan struct{})
			timer := time.AfterFunc(wait, func() {
				c.mu.Lock()
				c.cond.Broadcast()
				c.mu.Unlock()
				close(waitDone)
			})
			c.cond.Wait()
			timer.Stop()
			select {
			case <-waitDone:
			default:
			}
			if len(c.queue) >= c.batchSize || time.Now().After(deadlineAt) {
				break
			}
		}
		batch := c.popBatchLocked()
		c.mu.Unlock()
		c.runBatch(batch)
	}
}

func (c *Coordinator) popBatchLocked() []pendingFrame {
	n := len(c.queue)
	if n > c.batchSize {
		n = c.batchSize
	}
	batch := c.queue[:n]
	c.queue = c.queue[n:]
	return batch
}

// AverageBatchFill returns the mean number of frames per submitted batch
// observed so far, for diagnosing whether the deadline or the batch size
// is the binding constraint in practice.
func (c *Coordinator) AverageBatchFill() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchFill.Average()
}

func (c *Coordinator) runBatch(batch []pendingFrame) {
	if len(batch) == 0 {
		return
	}
	c.mu.Lock()
	c.batchFill.AddSample(float64(len(batch)))
	c.mu.Unlock()
	engine := inference.Lookup(c.hefPath)
	if engine == nil {
		c.log.Errorf("batch coordinator: no engine registered for %s", c.hefPath)
		for _, f := range batch {
			f.callback(nil)
		}
		return
	}
	frames := make([]inference.BatchFrame, len(batch))
	minConfidence := batch[0].confidence
	for i, f := range batch {
		frames[i] = inference.BatchFrame{StreamID: f.streamID, RGB: f.rgb, Width: f.width, Height: f.height}
		if f.confidence < minConfidence {
			minConfidence = f.confidence
		}
	}
	results := engine.RunBatchInference(frames, minConfidence)
	for _, f := range batch {
		f.callback(results[f.streamID])
	}
}
