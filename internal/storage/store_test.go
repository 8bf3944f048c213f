package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)
	assert.Equal(t, "x", nullString("x").String)

	assert.False(t, nullTime(nil).Valid)
	now := time.Now()
	assert.True(t, nullTime(&now).Valid)
	assert.Equal(t, now, nullTime(&now).Time)

	assert.False(t, nullFloat(nil).Valid)
	vph := 123.4
	assert.True(t, nullFloat(&vph).Valid)
	assert.Equal(t, vph, nullFloat(&vph).Float64)

	assert.False(t, nullInt(nil).Valid)
	ms := int64(250)
	assert.True(t, nullInt(&ms).Valid)
	assert.Equal(t, ms, nullInt(&ms).Int64)
}
