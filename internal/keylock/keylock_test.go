package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("order-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 100, counter)
	require.Zero(t, l.Len())
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := New()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	require.Equal(t, 1, l.Len())
	unlockA()
	require.Zero(t, l.Len())
}
