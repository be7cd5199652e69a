package emergency_test

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/fuzzcore/internal/emergency"
)

func TestStopSoonFalseUntilTriggered(t *testing.T) {
	c := emergency.New()
	assert.False(t, c.StopSoon())
	c.Stop()
	assert.True(t, c.StopSoon())
}

func TestStopChannelClosesOnce(t *testing.T) {
	c := emergency.New()
	c.Stop()
	c.Stop() // second call must not panic on a closed channel

	select {
	case <-c.StopChannel():
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestOnStopCallbacksRunExactlyOnce(t *testing.T) {
	c := emergency.New()
	var calls int32
	c.OnStop(func() { atomic.AddInt32(&calls, 1) })
	c.Stop()
	c.Stop()
	assert.Equal(t, int32(1), calls)
}

func TestTakeSkipClearsAfterRead(t *testing.T) {
	c := emergency.New()
	assert.False(t, c.TakeSkip())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.TakeSkip() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.False(t, c.TakeSkip(), "second read must report no pending skip")
}

func TestSigusr2RunsBitmapDumpCallbacks(t *testing.T) {
	c := emergency.New()
	var calls int32
	c.OnBitmapDump(func() { atomic.AddInt32(&calls, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(1), calls)
	assert.False(t, c.StopSoon(), "SIGUSR2 must not trigger stop")
}

func TestSigtermTriggersStop(t *testing.T) {
	c := emergency.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-c.StopChannel():
	case <-time.After(time.Second):
		t.Fatal("expected stop channel to close after SIGTERM")
	}
}
