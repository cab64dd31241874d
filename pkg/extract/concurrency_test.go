package extract_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyGate_EnforcesPerPluginCap(t *testing.T) {
	gate := extract.NewConcurrencyGate(map[string]int{"ocr": 1}, nil, 0, nil)

	release1, err := gate.Acquire(context.Background(), "ocr")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = gate.Acquire(ctx, "ocr")
	assert.Error(t, err) // second acquire blocks because the cap is 1 and the first slot is held

	release1()
}

func TestConcurrencyGate_GPUCapSerializesGPUPlugins(t *testing.T) {
	gate := extract.NewConcurrencyGate(nil, []string{"ocr", "track.cursor"}, 1, nil)

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	run := func(pluginID string) {
		defer wg.Done()
		release, err := gate.Acquire(context.Background(), pluginID)
		require.NoError(t, err)
		n := atomic.AddInt32(&concurrent, 1)
		if n > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		release()
	}

	wg.Add(2)
	go run("ocr")
	go run("track.cursor")
	wg.Wait()

	assert.Equal(t, int32(1), maxConcurrent)
}

func TestConcurrencyGate_ForegroundCeilingBlocksGPUPluginsUntilIdle(t *testing.T) {
	var active int32 = 1
	gate := extract.NewConcurrencyGate(nil, []string{"ocr"}, 1, func() bool {
		return atomic.LoadInt32(&active) == 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		release, err := gate.Acquire(ctx, "ocr")
		if err == nil {
			release()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("acquire should not complete while foreground is active")
	case <-time.After(20 * time.Millisecond):
	}

	atomic.StoreInt32(&active, 0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire should complete once foreground goes idle")
	}
	cancel()
}

func TestConcurrencyGate_WaitRetryPacesAttempts(t *testing.T) {
	gate := extract.NewConcurrencyGate(nil, nil, 0, nil)
	err := gate.WaitRetry(context.Background())
	assert.NoError(t, err)
}
