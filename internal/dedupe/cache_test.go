// ABOUTME: Tests for the completion dedupe cache.
// ABOUTME: Validates duplicate detection, TTL expiration, eviction and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_FirstSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("job-1:done"))
	assert.True(t, cache.CheckAndMark("job-1:done"))
}

func TestCheckAndMark_DistinctKeys(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("job-1:done"))
	assert.False(t, cache.CheckAndMark("job-2:done"))
	assert.True(t, cache.CheckAndMark("job-1:done"))
}

func TestCheckAndMark_ExpiredKeyIsFresh(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("job-1:done"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("job-1:done"), "expired entries are not duplicates")
	assert.True(t, cache.CheckAndMark("job-1:done"))
}

func TestCheckAndMark_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 0; i < 4; i++ {
		cache.CheckAndMark(fmt.Sprintf("job-%d", i))
	}

	// job-0 was evicted to make room for job-3
	assert.False(t, cache.CheckAndMark("job-0"))
	assert.True(t, cache.CheckAndMark("job-3"))
}

func TestCheckAndMark_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const goroutines = 16
	var duplicates int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if cache.CheckAndMark(fmt.Sprintf("job-%d", i)) {
					mu.Lock()
					duplicates++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Exactly one goroutine wins each key
	assert.Equal(t, int64((goroutines-1)*100), duplicates)
}

func TestClose_Idempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
