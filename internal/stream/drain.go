package stream

import (
	"context"

	"github.com/nidhogg/launchbox/internal/provider"
)

// Result is the outcome of draining a stream.
type Result struct {
	Raw      string
	Visible  string
	Thinking string
	Chunks   int
}

// DeltaFunc receives the speculative split after every non-empty chunk.
type DeltaFunc func(visible, thinking string)

// Drain consumes ch until it closes, a terminal chunk arrives, or ctx is
// cancelled. The returned Result always carries the definitive split of
// whatever was received, including on error.
func Drain(ctx context.Context, ch <-chan *provider.StreamChunk, onDelta DeltaFunc) (*Result, error) {
	var sp Splitter
	n := 0
	finish := func(err error) (*Result, error) {
		visible, thinking := sp.Final()
		return &Result{Raw: sp.Raw(), Visible: visible, Thinking: thinking, Chunks: n}, err
	}

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())
		case c, ok := <-ch:
			if !ok {
				return finish(nil)
			}
			if c.Content != "" {
				n++
				visible, thinking := sp.Push(c.Content)
				if onDelta != nil {
					onDelta(visible, thinking)
				}
			}
			if c.Err != nil {
				return finish(c.Err)
			}
			if c.Done {
				return finish(nil)
			}
		}
	}
}
