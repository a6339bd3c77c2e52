package bot

import (
	"context"
	"sync"

	"github.com/wapuda/vidrelay/internal/jobs"
	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/render"
	"github.com/wapuda/vidrelay/internal/session"
)

// InlineDispatcher renders in a goroutine of the bot process. It is the
// default when no queue is configured.
type InlineDispatcher struct {
	Renderer *render.Renderer
	Sessions session.Store
	// Locks must be the Server's, so the final cleanup cannot interleave
	// with the user's next update.
	Locks *session.Locks

	wg sync.WaitGroup
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, p jobs.RenderPayload) error {
	// the render outlives the update that triggered it
	ctx = logx.WithSession(context.WithoutCancel(ctx), p.SessionID, p.UserID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Renderer.Render(ctx, p)

		unlock := d.Locks.Lock(p.UserID)
		defer unlock()
		if err := session.Finish(ctx, d.Sessions, p.UserID, p.SessionID); err != nil {
			l := logx.FromCtx(ctx)
			l.Error().Err(err).Msg("finish session")
		}
	}()
	return nil
}

// Wait blocks until every dispatched render has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }
