package subscriber

import "context"

// ProcessExecutor bounds how many deliveries run at once. Size 1 gives
// strictly sequential handling.
type ProcessExecutor struct {
	slots chan struct{}
}

func NewProcessExecutor(size int) *ProcessExecutor {
	if size <= 0 {
		size = 1
	}
	return &ProcessExecutor{slots: make(chan struct{}, size)}
}

// Submit runs fn once a slot is free, or returns the context error.
func (e *ProcessExecutor) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.slots }()
	return fn(ctx)
}
