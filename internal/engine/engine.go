package engine

import (
	"context"

	"eegstream/internal/listener"
	"eegstream/internal/stream"
)

type Engine struct {
	loop     *stream.Loop
	listener *listener.Listener
}

// Run streams until ctx is cancelled or the session dies. The result
// listener lives exactly as long as the loop.
func (e *Engine) Run(ctx context.Context) error {
	lctx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	if e.listener != nil {
		go func() { _ = e.listener.Run(lctx) }()
		defer e.listener.Close()
	}

	return e.loop.Run(ctx)
}
