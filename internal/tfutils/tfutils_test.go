package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Minute, GetTimeframeDuration("1m"))
	assert.Equal(t, 15*time.Minute, GetTimeframeDuration("15m"))
	assert.Equal(t, 24*time.Hour, GetTimeframeDuration("1d"))
	assert.Equal(t, time.Duration(0), GetTimeframeDuration("2w"))
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("4h")
	assert.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	_, err = ParseTimeframe("bogus")
	assert.Error(t, err)
}

func TestIsValidTimeframe(t *testing.T) {
	for _, tf := range GetSupportedTimeframes() {
		assert.True(t, IsValidTimeframe(tf), tf)
	}
	assert.False(t, IsValidTimeframe(""))
	assert.False(t, IsValidTimeframe("3m"))
}
