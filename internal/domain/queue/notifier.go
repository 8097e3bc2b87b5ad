package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/target/smart-resizer/internal/domain/model"
)

// ErrWaiterRequired is returned when a notifier is built without a Waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the store signals that a task of taskType was added, or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, taskType model.TaskType) error
}

// Notifier lets idle workers sleep until new tasks arrive.
type Notifier interface {
	Subscribe(taskType model.TaskType) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configures DefaultNotifier.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

type topic struct {
	cancel context.CancelFunc
	subs   map[chan struct{}]struct{}
}

// DefaultNotifier runs one listener goroutine per task type with at least one subscriber
// and wakes every subscriber when that listener returns.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	topics map[model.TaskType]*topic
}

// NewNotifier builds a DefaultNotifier. WaitWindow defaults to one minute and Backoff to 250ms.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		topics:     make(map[model.TaskType]*topic),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = time.Minute
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe returns a wake-up channel for taskType and a func that releases it.
func (n *DefaultNotifier) Subscribe(taskType model.TaskType) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[taskType]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &topic{cancel: cancel, subs: make(map[chan struct{}]struct{})}
		n.topics[taskType] = t
		go n.listen(ctx, taskType)
	}

	ch := make(chan struct{}, 1)
	t.subs[ch] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() { n.release(taskType, t, ch) })
	}
	return release, ch
}

func (n *DefaultNotifier) release(taskType model.TaskType, t *topic, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	closeDrained(ch)
	if len(t.subs) == 0 && n.topics[taskType] == t {
		t.cancel()
		delete(n.topics, taskType)
	}
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for taskType, t := range n.topics {
		t.cancel()
		for ch := range t.subs {
			closeDrained(ch)
			delete(t.subs, ch)
		}
		delete(n.topics, taskType)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, taskType model.TaskType) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, taskType)
		cancel()

		// Wake on timeouts too so workers re-poll for leases that expired silently.
		n.wake(taskType)

		if err == nil || ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.backoff):
		}
	}
}

func (n *DefaultNotifier) wake(taskType model.TaskType) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[taskType]
	if !ok {
		return
	}
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func closeDrained(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
	close(ch)
}

var _ Notifier = (*DefaultNotifier)(nil)
