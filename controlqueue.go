package websocket

import (
	"sync"

	"github.com/eapache/queue"
)

// controlQueue holds fully-encoded control frames (Pong echoes, Close
// frames) that were produced while the write mutex was held by someone
// else. It exists so the read path never blocks behind an in-flight data
// write (SPEC_FULL.md §4.7): the reactor-style work queue used for
// scheduling outbound I/O in the hioload-ws sibling is reused here for the
// same purpose, scaled down to one Connection's control traffic.
type controlQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newControlQueue() *controlQueue {
	return &controlQueue{q: queue.New()}
}

func (c *controlQueue) push(frame []byte) {
	c.mu.Lock()
	c.q.Add(frame)
	c.mu.Unlock()
}

// drain removes and returns every queued frame, FIFO, in one shot so the
// caller can write them out while already holding the write mutex.
func (c *controlQueue) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.q.Length()
	if n == 0 {
		return nil
	}
	frames := make([][]byte, n)
	for i := 0; i < n; i++ {
		frames[i] = c.q.Remove().([]byte)
	}
	return frames
}
