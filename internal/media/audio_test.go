package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wavBytes(t *testing.T, rate, channels, bits int, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	require.NoError(t, binary.Write(&data, binary.LittleEndian, samples))

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(4+8+16+8+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*channels*bits/8))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bits))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	pcm, err := DecodeWAV(bytes.NewReader(wavBytes(t, 16000, 1, 16, []int16{1, -2, 300})))
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
	assert.Equal(t, []int16{1, -2, 300}, pcm.Samples)
}

func TestDecodeWAVErrors(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("RIFX0000WAVE")))
	assert.Error(t, err)

	_, err = DecodeWAV(bytes.NewReader(wavBytes(t, 16000, 1, 8, nil)))
	assert.Error(t, err)

	full := wavBytes(t, 16000, 1, 16, []int16{1})
	_, err = DecodeWAV(bytes.NewReader(full[:36]))
	assert.Error(t, err)
}

type frameSink struct {
	frames [][]int16
	stopAt int
	err    error
}

func (s *frameSink) WriteAudio(frame []int16) error {
	if len(s.frames) == s.stopAt {
		return s.err
	}
	s.frames = append(s.frames, append([]int16(nil), frame...))
	return nil
}

func TestPlayPCMLoopsUntilChannelLeft(t *testing.T) {
	samples := make([]int16, 400)
	for i := range samples {
		samples[i] = int16(i)
	}
	sink := &frameSink{stopAt: 3, err: ErrNotJoined}
	pcm := &PCM{SampleRate: 16000, Channels: 1, Samples: samples}

	require.NoError(t, PlayPCM(context.Background(), sink, pcm, 10*time.Millisecond))
	require.Len(t, sink.frames, 3)
	assert.Len(t, sink.frames[0], 160)
	assert.Equal(t, int16(160), sink.frames[1][0])
	assert.Equal(t, int16(0), sink.frames[2][0], "wraps when a full frame is left")
}

func TestPlayPCMErrors(t *testing.T) {
	ctx := context.Background()
	sink := &frameSink{stopAt: 0, err: errors.New("track closed")}

	err := PlayPCM(ctx, sink, &PCM{SampleRate: 48000, Channels: 2, Samples: make([]int16, 960)}, 10*time.Millisecond)
	assert.Error(t, err)
	err = PlayPCM(ctx, sink, &PCM{SampleRate: 16000, Channels: 1, Samples: make([]int16, 10)}, 10*time.Millisecond)
	assert.Error(t, err)
	err = PlayPCM(ctx, sink, &PCM{SampleRate: 16000, Channels: 1, Samples: make([]int16, 160)}, 10*time.Millisecond)
	assert.ErrorContains(t, err, "track closed")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, PlayPCM(cancelled, &frameSink{stopAt: -1}, &PCM{SampleRate: 16000, Channels: 1, Samples: make([]int16, 160)}, time.Hour))
}
