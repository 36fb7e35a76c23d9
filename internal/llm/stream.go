package llm

import (
	"context"
	"io"
)

// eventStream adapts a pump function into the Stream interface. The pump
// runs on its own goroutine and is cancelled by Close.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newEventStream(ctx context.Context, pump func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		err := pump(ctx, s.events)
		if err != nil {
			s.err = err
		}
		close(s.events)
	}()
	return s
}

// Recv returns the next event, io.EOF once the stream completed, or the
// pump's error.
func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	return ev, nil
}

// Close cancels the pump and waits for it to unwind.
func (s *eventStream) Close() error {
	s.cancel()
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				<-s.done
				return nil
			}
		case <-s.done:
			// Drain whatever the pump still buffered.
			for range s.events {
			}
			return nil
		}
	}
}
