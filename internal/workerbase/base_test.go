package workerbase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chuliyu/cardbus/pkg/types"
)

func TestStartStopIdempotent(t *testing.T) {
	b := NewBase("test", nil)
	ran := make(chan struct{})
	b.Start(func() {
		close(ran)
		<-b.StopChan()
	})
	b.Start(func() { t.Fatal("second Start must not launch a second run loop") })

	<-ran
	require.NoError(t, b.Stop(time.Second, false))
	require.NoError(t, b.Stop(time.Second, false), "second Stop must be a no-op, not an error")
}

func TestStopTimesOut(t *testing.T) {
	b := NewBase("test", nil)
	b.Start(func() {
		<-b.StopChan()
		time.Sleep(200 * time.Millisecond)
	})
	time.Sleep(10 * time.Millisecond)

	err := b.Stop(20*time.Millisecond, false)
	require.ErrorIs(t, err, ErrWorkerTimedOut)
}

func TestSelfStopDoesNotDeadlock(t *testing.T) {
	b := NewBase("test", nil)
	done := make(chan struct{})
	b.Start(func() {
		<-b.WakeChan()
		_ = b.Stop(0, true)
		close(done)
	})

	b.raiseWake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("self-stop deadlocked")
	}
}

func TestCallbackDueThenAdvances(t *testing.T) {
	cb := &Callback{Fn: func() {}, Period: 100 * time.Millisecond}

	now := time.Now()
	require.True(t, cb.Due(now), "first call must always be due")
	cb.Advance(now)
	require.False(t, cb.Due(now), "immediately after advancing, not yet due")
	require.True(t, cb.Due(now.Add(150*time.Millisecond)))
}

func TestWaitInboundDrained(t *testing.T) {
	b := NewBase("test", nil)
	require.True(t, b.WaitInboundDrained(10*time.Millisecond), "empty queue drains immediately")

	b.Event(types.AcsDatabaseUpdated{})
	require.False(t, b.WaitInboundDrained(5*time.Millisecond))

	<-b.Inbound()
	require.True(t, b.WaitInboundDrained(10*time.Millisecond))
}

func TestEmitDoesNotBlockWhenOutboundFull(t *testing.T) {
	b := NewBase("test", nil)
	for i := 0; i < 4096; i++ {
		b.Emit(types.AcsDatabaseUpdated{})
	}
	done := make(chan struct{})
	go func() {
		b.Emit(types.AcsDatabaseUpdated{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full outbound queue")
	}
}
