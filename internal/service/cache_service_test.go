package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberSharesConcurrentLoads(t *testing.T) {
	cache := NewCacheService(newMockTokenStore(), NewMetricsService(), time.Minute, nil, true)
	release := make(chan struct{})
	var loads int32

	load := func(ctx context.Context) ([]string, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []string{"BSIT", "BSN"}, nil
	}

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := Remember(context.Background(), cache, "catalog:programs", 0, load)
			assert.NoError(t, err)
			results[i] = value
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
	for _, value := range results {
		assert.Equal(t, []string{"BSIT", "BSN"}, value)
	}
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	cache := NewCacheService(newMockTokenStore(), nil, time.Minute, nil, true)
	calls := 0
	load := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("document store down")
		}
		return 42, nil
	}

	_, err := Remember(context.Background(), cache, "catalog:fees:BSIT", time.Minute, load)
	require.Error(t, err)

	value, err := Remember(context.Background(), cache, "catalog:fees:BSIT", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	value, err = Remember(context.Background(), cache, "catalog:fees:BSIT", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, 2, calls)
}

func TestRememberDisabledAlwaysLoads(t *testing.T) {
	for name, cache := range map[string]*CacheService{
		"nil":      nil,
		"disabled": NewCacheService(newMockTokenStore(), nil, time.Minute, nil, false),
	} {
		t.Run(name, func(t *testing.T) {
			calls := 0
			load := func(ctx context.Context) (string, error) {
				calls++
				return "v", nil
			}
			for i := 0; i < 2; i++ {
				_, err := Remember(context.Background(), cache, "k", 0, load)
				require.NoError(t, err)
			}
			assert.Equal(t, 2, calls)
			assert.NoError(t, cache.Invalidate(context.Background(), "k*"))
		})
	}
}
