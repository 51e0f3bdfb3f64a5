package feed

import (
	"context"
	"sync"
)

// Notifier delivers change signals to observers on its own goroutine.
// Signals raised while a delivery is pending collapse into one.
type Notifier struct {
	mu        sync.Mutex
	observers []func()

	signal chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier() *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Subscribe registers fn. Observers run one at a time and must not block
// for long.
func (n *Notifier) Subscribe(fn func()) {
	n.mu.Lock()
	n.observers = append(n.observers, fn)
	n.mu.Unlock()
}

// Notify never blocks.
func (n *Notifier) Notify() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. Pending signals are dropped.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.signal:
			n.mu.Lock()
			observers := append([]func(){}, n.observers...)
			n.mu.Unlock()
			for _, fn := range observers {
				fn()
			}
		}
	}
}
