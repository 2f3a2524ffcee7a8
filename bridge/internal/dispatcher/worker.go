package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pool runs tasks off the owner loop. Its queue is unbounded so the owner
// never blocks submitting; tasks start in submission order.
type pool struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func(context.Context)
	closed bool
	wg     sync.WaitGroup
}

func newPool(name string, workers int, timeout time.Duration, logger *slog.Logger) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{name: name, timeout: timeout, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// submit queues task. It returns false once the pool is closed.
func (p *pool) submit(task func(context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return true
}

// close stops accepting tasks; queued tasks still run.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pool) wait() { p.wg.Wait() }

func (p *pool) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.exec(task)
	}
}

func (p *pool) exec(task func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatcher: worker task panicked", "pool", p.name, "panic", r)
		}
	}()
	task(ctx)
}
