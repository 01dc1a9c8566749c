package socket

import (
	"context"
	"fmt"
	"time"

	"github.com/teamwork/chat-go/internal/frame"
)

// waiter is one registered frame expectation. The channel is buffered to its
// full capacity so dispatch never blocks; it is closed when the waiter is
// removed or the session closes, which is how receivers learn they were
// cancelled.
type waiter struct {
	id     uint64
	filter frame.Filter
	ch     chan *frame.Frame
	want   int
	got    int
}

func (s *Session) addWaiter(f frame.Filter, want int) (*waiter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return nil, s.lockedCloseError()
	}
	s.nextID++
	w := &waiter{id: s.nextID, filter: f, ch: make(chan *frame.Frame, want), want: want}
	s.waiters[w.id] = w
	return w, nil
}

func (s *Session) removeWaiter(id uint64) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if w, ok := s.waiters[id]; ok {
		delete(s.waiters, id)
		close(w.ch)
	}
}

// dispatch resolves every waiter whose filter matches the frame. Multi-frame
// waiters stay registered until they have collected their full count.
func (s *Session) dispatch(f *frame.Frame) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for id, w := range s.waiters {
		if !w.filter.Match(f) {
			continue
		}
		w.ch <- f
		w.got++
		if w.got >= w.want {
			delete(s.waiters, id)
			close(w.ch)
		}
	}
}

func (s *Session) lockedCloseError() error {
	if s.reason != nil {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.reason.Error())
	}
	return ErrSessionClosed
}

// AwaitFrame blocks until an inbound frame matches the filter. A zero timeout
// takes the session default. Cancellation, timeout, and session close all
// release the waiter.
func (s *Session) AwaitFrame(ctx context.Context, f frame.Filter, timeout time.Duration) (*frame.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}
	w, err := s.addWaiter(f, 1)
	if err != nil {
		return nil, err
	}
	defer s.removeWaiter(w.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case got, ok := <-w.ch:
		if !ok {
			return nil, s.closeError()
		}
		return got, nil
	case <-timer.C:
		return nil, fmt.Errorf("await %s: %w", describeFilter(f), ErrAwaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RaceFrames registers one waiter per filter and returns the index and frame
// of whichever matches first; the losers are cancelled.
func (s *Session) RaceFrames(ctx context.Context, timeout time.Duration, filters ...frame.Filter) (int, *frame.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}

	type hit struct {
		idx int
		f   *frame.Frame
	}
	hits := make(chan hit, len(filters))

	waiters := make([]*waiter, 0, len(filters))
	defer func() {
		for _, w := range waiters {
			s.removeWaiter(w.id)
		}
	}()
	for i, f := range filters {
		w, err := s.addWaiter(f, 1)
		if err != nil {
			return -1, nil, err
		}
		waiters = append(waiters, w)
		go func(idx int, w *waiter) {
			if got, ok := <-w.ch; ok {
				hits <- hit{idx: idx, f: got}
			}
		}(i, w)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h := <-hits:
		return h.idx, h.f, nil
	case <-timer.C:
		return -1, nil, fmt.Errorf("race %d filters: %w", len(filters), ErrAwaitTimeout)
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	case <-s.done:
		return -1, nil, s.closeError()
	}
}

// Request sends a nonced frame and waits for the frame that answers it, which
// the server correlates by echoing the nonce. The reply waiter is registered
// before the write so a fast answer cannot be missed.
func (s *Session) Request(ctx context.Context, name string, contents any, timeout time.Duration) (*frame.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}
	f, err := s.codec.New(name, contents, true)
	if err != nil {
		return nil, err
	}
	w, err := s.addWaiter(frame.ByNonce(*f.Nonce), 1)
	if err != nil {
		return nil, err
	}
	defer s.removeWaiter(w.id)

	if err := s.writeFrame(f); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case got, ok := <-w.ch:
		if !ok {
			return nil, s.closeError()
		}
		return got, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s (nonce %d): %w", name, *f.Nonce, ErrAwaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendEventAwait writes an un-nonced event and waits for the inbound frame
// matching echo. As with Request, the waiter is registered before the write so
// a fast echo cannot be missed; a failed write releases it.
func (s *Session) SendEventAwait(ctx context.Context, name string, contents any, echo frame.Filter, timeout time.Duration) (*frame.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}
	f, err := s.codec.New(name, contents, false)
	if err != nil {
		return nil, err
	}
	w, err := s.addWaiter(echo, 1)
	if err != nil {
		return nil, err
	}
	defer s.removeWaiter(w.id)

	if err := s.writeFrame(f); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case got, ok := <-w.ch:
		if !ok {
			return nil, s.closeError()
		}
		return got, nil
	case <-timer.C:
		return nil, fmt.Errorf("send %s, await %s: %w", name, describeFilter(echo), ErrAwaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BufferFrames collects the next count inbound frames regardless of type.
func (s *Session) BufferFrames(ctx context.Context, count int, timeout time.Duration) ([]*frame.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}
	w, err := s.addWaiter(frame.Filter{Type: frame.TypeAny}, count)
	if err != nil {
		return nil, err
	}
	defer s.removeWaiter(w.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	frames := make([]*frame.Frame, 0, count)
	for len(frames) < count {
		select {
		case got, ok := <-w.ch:
			if !ok {
				return frames, s.closeError()
			}
			frames = append(frames, got)
		case <-timer.C:
			return frames, fmt.Errorf("buffer %d frames (got %d): %w", count, len(frames), ErrAwaitTimeout)
		case <-ctx.Done():
			return frames, ctx.Err()
		}
	}
	return frames, nil
}

func describeFilter(f frame.Filter) string {
	switch {
	case f.Type != "":
		return f.Type
	case f.TypeRegexp != nil:
		return f.TypeRegexp.String()
	case f.Nonce != nil:
		return fmt.Sprintf("nonce %d", *f.Nonce)
	default:
		return "contents filter"
	}
}
