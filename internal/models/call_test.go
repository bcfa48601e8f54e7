package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChargeFor(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		rate     int64
		want     int64
	}{
		{"under a minute", 59, 100, 0},
		{"exact minute", 60, 100, 100},
		{"partial minute floors", 125, 100, 200},
		{"voice rate", 180, 50, 150},
		{"negative duration", -5, 100, 0},
		{"zero rate", 600, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChargeFor(tt.duration, tt.rate))
		})
	}
}

func TestCallKindValid(t *testing.T) {
	assert.True(t, KindVoice.Valid())
	assert.True(t, KindVideo.Valid())
	assert.False(t, CallKind("screen").Valid())
	assert.False(t, CallKind("").Valid())
}
