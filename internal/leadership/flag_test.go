package leadership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagWakesAllWaitersOnSet(t *testing.T) {
	flag := NewFlag()
	assert.False(t, flag.IsSet())

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			flag.Wait()
			done <- struct{}{}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	flag.Set()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter never woke after Set")
		}
	}
	assert.True(t, flag.IsSet())
}

func TestFlagSetIsIdempotent(t *testing.T) {
	flag := NewFlag()
	flag.Set()
	require.NotPanics(t, flag.Set)
	assert.True(t, flag.IsSet())
}

func TestFlagDoneChannelClosesOnSet(t *testing.T) {
	flag := NewFlag()
	select {
	case <-flag.Done():
		t.Fatal("Done channel should not be closed before Set")
	default:
	}
	flag.Set()
	select {
	case <-flag.Done():
	default:
		t.Fatal("Done channel should be closed after Set")
	}
}
