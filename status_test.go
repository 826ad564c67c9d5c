package irisview

import (
	"encoding/json"
	"testing"

	"github.com/esimov/irisview/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBus_DropsForSlowSubscribers(t *testing.T) {
	b := newStatusBus()

	slow, cancelSlow := b.subscribe(1)
	fast, cancelFast := b.subscribe(8)
	defer cancelSlow()
	defer cancelFast()

	for i := 0; i < 3; i++ {
		b.publish(Status{FPS: i})
	}

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 3)
	assert.Equal(t, uint64(2), b.drops())
	assert.Equal(t, 0, (<-slow).FPS)
}

func TestStatusBus_Unsubscribe(t *testing.T) {
	b := newStatusBus()

	ch, cancel := b.subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	b.close()
	ch, _ = b.subscribe(1)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Status{
		State:          Capturing,
		Label:          "sunglasses",
		Tracking:       model.Ready,
		Classification: model.Loading,
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "capturing", out["state"])
	assert.Equal(t, "sunglasses", out["label"])
	assert.Equal(t, "ready", out["tracking"])
	assert.Equal(t, "loading", out["classification"])
}
