package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnique(t *testing.T) {
	gen := Int64{}
	require.Equal(t, int64(1), gen.Next())

	var lock sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Next()
				lock.Lock()
				seen[id] = true
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 800)
	require.False(t, seen[0])
	require.False(t, seen[1])
}
