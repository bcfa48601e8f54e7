package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// PCM is interleaved 16-bit audio.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// LoadWAV reads a 16-bit PCM WAV file.
func LoadWAV(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV parses RIFF chunks until it has both fmt and data.
func DecodeWAV(r io.Reader) (*PCM, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}
	var (
		pcm  PCM
		bits int
		data []byte
	)
	for pcm.SampleRate == 0 || data == nil {
		chunk := make([]byte, 8)
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("missing fmt or data chunk")
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int(binary.LittleEndian.Uint32(chunk[4:8]))
		payload := make([]byte, size+size%2)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", id, err)
		}
		payload = payload[:size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("fmt chunk too small")
			}
			if format := binary.LittleEndian.Uint16(payload[0:2]); format != 1 {
				return nil, fmt.Errorf("unsupported wav format %d", format)
			}
			pcm.Channels = int(binary.LittleEndian.Uint16(payload[2:4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(payload[4:8]))
			bits = int(binary.LittleEndian.Uint16(payload[14:16]))
		case "data":
			data = payload
		}
	}
	if bits != 16 {
		return nil, fmt.Errorf("need 16-bit pcm, got %d", bits)
	}
	pcm.Samples = make([]int16, len(data)/2)
	for i := range pcm.Samples {
		pcm.Samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return &pcm, nil
}

// AudioWriter accepts microphone frames.
type AudioWriter interface {
	WriteAudio(frame []int16) error
}

// PlayPCM loops pcm into w one frame per tick until ctx ends or w leaves
// its channel. pcm must match the microphone track format.
func PlayPCM(ctx context.Context, w AudioWriter, pcm *PCM, frame time.Duration) error {
	if pcm.SampleRate != micSampleRate || pcm.Channels != micChannels {
		return fmt.Errorf("microphone needs %d Hz mono, got %d Hz x%d", micSampleRate, pcm.SampleRate, pcm.Channels)
	}
	n := int(int64(micSampleRate) * int64(frame) / int64(time.Second))
	if n <= 0 || len(pcm.Samples) < n {
		return errors.New("audio shorter than one frame")
	}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if pos+n > len(pcm.Samples) {
			pos = 0
		}
		err := w.WriteAudio(pcm.Samples[pos : pos+n])
		if errors.Is(err, ErrNotJoined) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		pos += n
	}
}
