package irisview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	th := Throttle{Interval: time.Second}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, th.Ready(t0), "first attempt must be allowed")
	th.Mark(t0)

	assert.False(t, th.Ready(t0.Add(900*time.Millisecond)))
	assert.True(t, th.Ready(t0.Add(1000*time.Millisecond)))
	assert.True(t, th.Ready(t0.Add(1100*time.Millisecond)))
	assert.Equal(t, t0, th.Last())

	th.Reset()
	assert.True(t, th.Last().IsZero())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{CropFace: true}.withDefaults()

	assert.Equal(t, DefaultOpennessThreshold, cfg.OpennessThreshold)
	assert.Equal(t, time.Second, cfg.ClassifyInterval)
	assert.Equal(t, 1080, cfg.Constraints.IdealWidth)
	assert.Equal(t, 1920, cfg.Constraints.IdealHeight)
	assert.Equal(t, 60, cfg.RefreshRate)
	assert.True(t, cfg.CropFace)
}
