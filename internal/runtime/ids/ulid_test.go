package ids

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	generated := make([]string, total)
	for i := range generated {
		generated[i] = CreateULID()
	}

	for i, id := range generated {
		require.Len(t, id, 26)
		_, err := ulid.Parse(id)
		require.NoError(t, err)
		if i > 0 {
			assert.Less(t, generated[i-1], id)
		}
	}
}

func TestCreateULIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := CreateULID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestPrefixedAndTime(t *testing.T) {
	id := Prefixed("call")
	assert.True(t, strings.HasPrefix(id, "call-"))
	assert.Len(t, strings.TrimPrefix(id, "call-"), 26)
	assert.Len(t, Prefixed(""), 26)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts, ok := Time(CreateULIDAt(at))
	require.True(t, ok)
	assert.True(t, ts.Equal(at))

	_, ok = Time("not-a-ulid")
	assert.False(t, ok)
}
