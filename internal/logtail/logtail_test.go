package logtail

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/spectra/internal/metrics"
)

func TestPublishFanOut(t *testing.T) {
	b := NewBroadcaster(4, nil)
	s1, err := b.Subscribe()
	require.NoError(t, err)
	s2, err := b.Subscribe()
	require.NoError(t, err)

	b.Publish("hello")
	assert.Equal(t, "hello", <-s1.Lines)
	assert.Equal(t, "hello", <-s2.Lines)
	assert.Equal(t, Stats{Published: 1, Subscribers: 2}, b.Stats())
}

func TestPublishDropsWhenFull(t *testing.T) {
	m := metrics.New()
	b := NewBroadcaster(2, m)
	slow, err := b.Subscribe()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish("line")
	}
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(3), b.Stats().Dropped)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LogDropped))
	assert.Len(t, slow.Lines, 2)
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := NewBroadcaster(1, nil)
	s, err := b.Subscribe()
	require.NoError(t, err)

	b.Unsubscribe(s)
	_, open := <-s.Lines
	assert.False(t, open)
	assert.NotPanics(t, func() { b.Unsubscribe(s) })

	s2, _ := b.Subscribe()
	b.Close()
	_, open = <-s2.Lines
	assert.False(t, open)
	assert.NotPanics(t, func() { b.Publish("late") })

	_, err = b.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublish(t *testing.T) {
	b := NewBroadcaster(1000, nil)
	s, _ := b.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("x")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Lines, 500)
	assert.Equal(t, uint64(500), b.Stats().Published)
}

func TestHandlerTees(t *testing.T) {
	var out bytes.Buffer
	b := NewBroadcaster(8, nil)
	s, _ := b.Subscribe()

	inner := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, b, slog.LevelInfo)).With("component", "test")

	logger.Info("processing", "frames", 3)
	logger.Warn("slow")

	assert.NotContains(t, out.String(), "processing", "inner level still applies")
	assert.Contains(t, out.String(), "msg=slow")

	first := <-s.Lines
	assert.Contains(t, first, "level=INFO")
	assert.Contains(t, first, "component=test")
	assert.Contains(t, first, "frames=3")
	assert.NotContains(t, first, "\n")
	assert.Contains(t, <-s.Lines, "msg=slow")

	logger.Debug("hidden")
	assert.Len(t, s.Lines, 0)
}
