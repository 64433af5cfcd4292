package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned by DecodeWAV when the input has no RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a wav file")

// EncodeWAV writes 16-bit PCM in format f to w as a WAV file.
func EncodeWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("audio: encode wav: pcm payload not aligned")
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV file and returns its samples as 16-bit PCM.
// Other bit depths are rescaled to 16 bits.
func DecodeWAV(r io.ReadSeeker) (Frame, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Frame{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = 16
	}
	shift := depth - 16

	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}

	return Frame{
		Data:   pcm,
		Format: Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
	}, nil
}

// WAVBytes is EncodeWAV into memory.
func WAVBytes(pcm []byte, f Format) ([]byte, error) {
	var w seekBuffer
	if err := EncodeWAV(&w, pcm, f); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// seekBuffer is an in-memory io.WriteSeeker. The wav encoder seeks back to
// patch the RIFF sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("audio: negative seek position")
	}
	s.pos = int(abs)
	return abs, nil
}
