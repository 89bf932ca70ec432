package browser

import (
	"context"
	"sync"
	"time"
)

// joinedContext couples the tab's lifetime with a caller's deadline so a
// DevTools action stops as soon as either side gives up, while reporting the
// cancellation reason of whichever side fired first. Values resolve through
// the tab side, where chromedp keeps its target handles.
type joinedContext struct {
	tabCtx    context.Context
	callerCtx context.Context

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// combineContext derives a context from the tab context that is also canceled
// when callerCtx ends. The returned cancel must always be called.
func combineContext(tabCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if tabCtx == callerCtx || callerCtx == context.Background() || callerCtx == context.TODO() {
		return context.WithCancel(tabCtx)
	}

	j := &joinedContext{
		tabCtx:    tabCtx,
		callerCtx: callerCtx,
		done:      make(chan struct{}),
	}
	if err := tabCtx.Err(); err != nil {
		j.err = err
		close(j.done)
		return j, func() {}
	}
	if err := callerCtx.Err(); err != nil {
		j.err = err
		close(j.done)
		return j, func() {}
	}

	stop := make(chan struct{}, 1)
	go func() {
		var err error
		select {
		case <-tabCtx.Done():
			err = tabCtx.Err()
		case <-callerCtx.Done():
			err = callerCtx.Err()
		case <-stop:
			err = context.Canceled
		}
		j.mu.Lock()
		if j.err == nil {
			j.err = err
			close(j.done)
		}
		j.mu.Unlock()
	}()

	cancel := func() {
		select {
		case stop <- struct{}{}:
		case <-j.done:
		}
	}
	return j, cancel
}

func (j *joinedContext) Deadline() (time.Time, bool) {
	d1, ok1 := j.tabCtx.Deadline()
	d2, ok2 := j.callerCtx.Deadline()
	switch {
	case !ok1 && !ok2:
		return time.Time{}, false
	case !ok1:
		return d2, true
	case !ok2:
		return d1, true
	case d2.Before(d1):
		return d2, true
	default:
		return d1, true
	}
}

func (j *joinedContext) Done() <-chan struct{} {
	return j.done
}

func (j *joinedContext) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *joinedContext) Value(key interface{}) interface{} {
	if val := j.tabCtx.Value(key); val != nil {
		return val
	}
	return j.callerCtx.Value(key)
}
