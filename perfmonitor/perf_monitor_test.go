package perfmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceMonitor_Lifecycle(t *testing.T) {
	t.Run("new monitor reports nothing", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		assert.NotNil(t, pm)
		assert.Zero(t, pm.Elapsed())
		assert.Zero(t, pm.ElapsedMilliseconds())
	})

	t.Run("start then stop measures the interval", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Start()
		time.Sleep(15 * time.Millisecond)
		pm.Stop()

		assert.GreaterOrEqual(t, pm.Elapsed(), 15*time.Millisecond)
		assert.GreaterOrEqual(t, pm.ElapsedMilliseconds(), 15.0)
		assert.InDelta(t, float64(pm.Elapsed())/float64(time.Millisecond), pm.ElapsedMilliseconds(), 1e-9)
	})

	t.Run("stop without start is ignored", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Stop()
		assert.True(t, pm.endTime.IsZero())
		assert.Zero(t, pm.Elapsed())
	})

	t.Run("start without stop reports nothing", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Start()
		assert.Zero(t, pm.Elapsed())
	})

	t.Run("restart after stop reports nothing until the next stop", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Start()
		pm.Stop()
		time.Sleep(2 * time.Millisecond)
		pm.Start()
		assert.Zero(t, pm.Elapsed(), "stop predates the latest start")

		pm.Stop()
		assert.False(t, pm.endTime.Before(pm.startTime))
	})

	t.Run("stop again extends the interval", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Start()
		pm.Stop()
		first := pm.Elapsed()
		time.Sleep(5 * time.Millisecond)
		pm.Stop()
		assert.Greater(t, pm.Elapsed(), first)
	})
}

func TestPerformanceMonitor_Reset(t *testing.T) {
	pm := NewPerformanceMonitor()
	pm.Start()
	time.Sleep(time.Millisecond)
	pm.Stop()
	assert.Positive(t, pm.Elapsed())

	pm.Reset()
	assert.True(t, pm.startTime.IsZero())
	assert.True(t, pm.endTime.IsZero())
	assert.Zero(t, pm.Elapsed())

	pm.Stop()
	assert.Zero(t, pm.Elapsed(), "stop after reset needs a new start")
}

func TestPerformanceMonitor_ElapsedGuards(t *testing.T) {
	now := time.Now()

	pm := &PerformanceMonitor{startTime: now, endTime: now.Add(-time.Second)}
	assert.Zero(t, pm.Elapsed())

	pm = &PerformanceMonitor{startTime: now, endTime: now.Add(250 * time.Millisecond)}
	assert.Equal(t, 250*time.Millisecond, pm.Elapsed())
	assert.Equal(t, 250.0, pm.ElapsedMilliseconds())
}
