package loader

import (
	"sync"

	"github.com/gammazero/channelqueue"
)

// pool runs load tasks on a fixed set of worker goroutines. Submissions
// queue in FIFO order without blocking the caller; only the worker count
// bounds how many tasks run at once.
type pool struct {
	queue  *channelqueue.ChannelQueue[*loadTask]
	waiter sync.WaitGroup
	mutex  sync.RWMutex // guards closed against concurrent submits
	closed bool
}

func newPool(workers int, run func(*loadTask)) *pool {
	workerPool := &pool{
		queue: channelqueue.New[*loadTask](-1),
	}

	for i := 0; i < workers; i++ {
		workerPool.waiter.Add(1)
		go func() {
			defer workerPool.waiter.Done()

			for task := range workerPool.queue.Out() {
				run(task)
			}
		}()
	}

	return workerPool
}

// submit queues the task. It returns false once the pool is closed.
func (workerPool *pool) submit(task *loadTask) bool {
	workerPool.mutex.RLock()
	defer workerPool.mutex.RUnlock()

	if workerPool.closed {
		return false
	}

	workerPool.queue.In() <- task
	return true
}

// close stops intake and waits for the workers to drain the queue.
func (workerPool *pool) close() {
	workerPool.mutex.Lock()
	if !workerPool.closed {
		workerPool.closed = true
		workerPool.queue.Close()
	}
	workerPool.mutex.Unlock()

	workerPool.waiter.Wait()
}
