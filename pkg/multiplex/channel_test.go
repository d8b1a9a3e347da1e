package multiplex

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/sessiond/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed returns a Source that forwards everything sent on in, plus a counter
// of how many times the source was started.
func feed(in <-chan event.Event) (event.Source, *atomic.Int32) {
	var starts atomic.Int32
	src := func(ctx context.Context, emit func(event.Event)) error {
		starts.Add(1)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-in:
				emit(e)
			}
		}
	}
	return src, &starts
}

func recv(t *testing.T, sub *Subscription) event.Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func assertSilent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_SwitchDeliversToExistingSubscribers(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	defer c.Close()

	sub := c.Subscribe(8)

	in1 := make(chan event.Event)
	src1, _ := feed(in1)
	c.Switch(src1)
	in1 <- event.Event{Kind: event.Message, Session: "first"}
	assert.Equal(t, "first", recv(t, sub).Session)

	in2 := make(chan event.Event)
	src2, _ := feed(in2)
	c.Switch(src2)
	in2 <- event.Event{Kind: event.Message, Session: "second"}
	assert.Equal(t, "second", recv(t, sub).Session)

	// The replaced producer can no longer reach subscribers.
	go func() {
		select {
		case in1 <- event.Event{Kind: event.Message, Session: "stale"}:
		case <-time.After(100 * time.Millisecond):
		}
	}()
	assertSilent(t, sub)
}

func TestChannel_StaleProducerIsFenced(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	defer c.Close()
	sub := c.Subscribe(8)

	// A producer that ignores cancellation and keeps emitting.
	var leaked func(event.Event)
	grabbed := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	c.Switch(func(_ context.Context, emit func(event.Event)) error {
		leaked = emit
		close(grabbed)
		<-release
		return nil
	})
	<-grabbed

	c.Switch(nil)
	leaked(event.Event{Kind: event.Message})
	assertSilent(t, sub)
}

func TestChannel_SwitchNilIdlesWithoutClosing(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	defer c.Close()
	sub := c.Subscribe(8)

	c.Switch(nil)
	assertSilent(t, sub)

	in := make(chan event.Event, 1)
	src, _ := feed(in)
	c.Switch(src)
	in <- event.Event{Kind: event.Message, Session: "back"}
	assert.Equal(t, "back", recv(t, sub).Session)
}

func TestChannel_RestartsFailedProducer(t *testing.T) {
	c := NewChannel(event.Message, nil, time.Millisecond)
	defer c.Close()
	sub := c.Subscribe(8)

	var starts atomic.Int32
	c.Switch(func(ctx context.Context, emit func(event.Event)) error {
		n := starts.Add(1)
		if n < 3 {
			return errors.New("boom")
		}
		emit(event.Event{Kind: event.Message, Payload: n})
		<-ctx.Done()
		return nil
	})

	e := recv(t, sub)
	assert.Equal(t, int32(3), e.Payload)
	assert.Equal(t, int32(3), starts.Load())
}

func TestChannel_RestartsPanickingProducer(t *testing.T) {
	c := NewChannel(event.Message, nil, time.Millisecond)
	defer c.Close()
	sub := c.Subscribe(8)

	var starts atomic.Int32
	c.Switch(func(ctx context.Context, emit func(event.Event)) error {
		if starts.Add(1) == 1 {
			panic("engine exploded")
		}
		emit(event.Event{Kind: event.Message})
		<-ctx.Done()
		return nil
	})

	recv(t, sub)
	assert.Equal(t, int32(2), starts.Load())
}

func TestChannel_FinishedProducerLeavesChannelOpen(t *testing.T) {
	c := NewChannel(event.Message, nil, time.Millisecond)
	defer c.Close()
	sub := c.Subscribe(8)

	var starts atomic.Int32
	c.Switch(func(_ context.Context, emit func(event.Event)) error {
		starts.Add(1)
		emit(event.Event{Kind: event.Message})
		return nil
	})

	recv(t, sub)
	assertSilent(t, sub)
	assert.Equal(t, int32(1), starts.Load(), "finished producer is not restarted")
}

func TestChannel_ProducerSharedAcrossSubscribers(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	defer c.Close()

	subs := []*Subscription{c.Subscribe(4), c.Subscribe(4), c.Subscribe(4)}

	in := make(chan event.Event)
	src, starts := feed(in)
	c.Switch(src)
	in <- event.Event{Kind: event.Message}

	for _, sub := range subs {
		recv(t, sub)
	}
	assert.Equal(t, int32(1), starts.Load())
}

func TestChannel_CloseCompletesOnce(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	sub := c.Subscribe(4)

	in := make(chan event.Event)
	src, _ := feed(in)
	c.Switch(src)

	c.Close()
	c.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	// Switch after close does not start anything.
	src2, starts := feed(make(chan event.Event))
	c.Switch(src2)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, starts.Load())

	late := c.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)

	c.Unsubscribe(sub)
	assert.Zero(t, c.Subscribers())
}

func TestChannel_Unsubscribe(t *testing.T) {
	c := NewChannel(event.Message, nil, 0)
	defer c.Close()

	sub := c.Subscribe(1)
	assert.Equal(t, 1, c.Subscribers())

	c.Unsubscribe(sub)
	c.Unsubscribe(sub)
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, c.Subscribers())
}

func TestChannel_BusSourceKeepsEventsPublishedRightAfterSwitch(t *testing.T) {
	ch := NewChannel(event.Message, nil, 0)
	defer ch.Close()
	sub := ch.Subscribe(4)

	bus := event.NewBus(4)
	defer bus.Close()
	ch.Switch(bus.Source(event.Message))
	bus.Publish(event.Event{Kind: event.Message, Payload: "first"})

	assert.Equal(t, "first", recv(t, sub).Payload)
}
