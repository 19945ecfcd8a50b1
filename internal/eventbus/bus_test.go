package eventbus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stateEvent(s domain.ConnectionState) domain.Event {
	return domain.ConnectionStateChanged{State: s, Time: time.Now()}
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := New(quietLogger())
	var got []int
	for i := 1; i <= 3; i++ {
		b.Subscribe(func(domain.Event) { got = append(got, i) })
	}
	b.Publish(stateEvent(domain.ConnectionConnected))

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(quietLogger())
	calls := 0
	unsub := b.Subscribe(func(domain.Event) { calls++ })
	b.Publish(stateEvent(domain.ConnectionConnected))
	unsub()
	unsub()
	b.Publish(stateEvent(domain.ConnectionDisconnected))

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after unsubscribe, want 0", b.Len())
	}
}

func TestBus_PanickingHandlerDoesNotStopFanOut(t *testing.T) {
	b := New(quietLogger())
	reached := false
	b.Subscribe(func(domain.Event) { panic("boom") })
	b.Subscribe(func(domain.Event) { reached = true })

	b.Publish(stateEvent(domain.ConnectionConnected))
	if !reached {
		t.Error("subscriber after a panicking one was not called")
	}
}

func TestBus_HandlerMaySubscribeDuringPublish(t *testing.T) {
	b := New(quietLogger())
	b.Subscribe(func(domain.Event) {
		b.Subscribe(func(domain.Event) {})
	})

	done := make(chan struct{})
	go func() {
		b.Publish(stateEvent(domain.ConnectionConnected))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish deadlocked on re-entrant Subscribe")
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
}

func TestBus_SubscribeChan(t *testing.T) {
	b := New(quietLogger())
	ch, unsub := b.SubscribeChan(1)

	b.Publish(stateEvent(domain.ConnectionConnecting))
	b.Publish(stateEvent(domain.ConnectionConnected))

	e := <-ch
	if got := e.(domain.ConnectionStateChanged).State; got != domain.ConnectionConnecting {
		t.Errorf("first event state = %s, want connecting", got)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}

	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	b.Publish(stateEvent(domain.ConnectionDisconnected))
}
