package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/you/sendlater/internal/domain"
)

// Pool runs a fixed number of worker goroutines consuming claimed jobs from
// a channel. The pool size bounds concurrent transport calls; a hanging send
// occupies one slot until its context deadline, never the dispatch loop.
type Pool struct {
	exec *Executor
	in   <-chan *domain.Job
	size int
	log  *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewPool(exec *Executor, in <-chan *domain.Job, size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		exec:   exec,
		in:     in,
		size:   size,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutines and returns immediately.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	p.log.Info("worker pool starting", zap.Int("size", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

// Stop signals workers to stop and waits for in-flight sends to finish, or
// for ctx to expire, whichever comes first. Jobs abandoned at the deadline
// stay claimed and become reclaimable when their lease lapses.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool drained")
	case <-ctx.Done():
		p.log.Warn("worker pool shutdown timed out, leases will expire")
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case j, ok := <-p.in:
			if !ok {
				return
			}
			p.exec.Execute(context.Background(), j)
		}
	}
}
