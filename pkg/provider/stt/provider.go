// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (Gemini, OpenAI Whisper, or a
// local whisper.cpp model) and exposes a uniform one-shot interface: a whole
// recording goes in, the transcribed text comes out. Recordings are uploaded
// by users after a meeting, so there is no streaming variant.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/MrWong99/minutas/pkg/audio"
)

// ErrTranscriptionFailed is wrapped by every error a Provider returns, so
// callers can classify the failure without knowing the backend.
var ErrTranscriptionFailed = errors.New("stt: transcription failed")

// ErrUnsupportedFormat is returned by [Request.PCM] when the recording is in
// a container the local decoders cannot read.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Request is a single transcription job.
type Request struct {
	// Audio holds the complete encoded recording.
	Audio []byte

	// MIMEType describes Audio, e.g. "audio/wav", "audio/webm" or
	// "audio/pcm;rate=16000".
	MIMEType string

	// Language is the ISO 639-1 code the transcript should be written in
	// (e.g. "es", "en"). Empty lets the provider decide.
	Language string
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe returns the full transcript of req.Audio. An empty recording
	// yields an empty string and no error when the backend allows it.
	//
	// Errors wrap [ErrTranscriptionFailed].
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Failed wraps err as a transcription failure for the named provider.
func Failed(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrTranscriptionFailed, err)
}

// PCM decodes the request audio to 16-bit PCM. WAV containers and raw
// "audio/pcm" payloads are understood; everything else returns
// [ErrUnsupportedFormat]. Raw PCM without a channels parameter is mono.
func (r Request) PCM() (audio.Frame, error) {
	media, params, err := mime.ParseMediaType(r.MIMEType)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, r.MIMEType)
	}
	switch media {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return audio.DecodeWAV(bytes.NewReader(r.Audio))
	case "audio/pcm", "audio/l16":
		rate, err := strconv.Atoi(params["rate"])
		if err != nil || rate <= 0 {
			return audio.Frame{}, fmt.Errorf("%w: %q has no sample rate", ErrUnsupportedFormat, r.MIMEType)
		}
		ch := 1
		if v := params["channels"]; v != "" {
			if ch, err = strconv.Atoi(v); err != nil || ch <= 0 {
				return audio.Frame{}, fmt.Errorf("%w: bad channel count %q", ErrUnsupportedFormat, v)
			}
		}
		return audio.Frame{Data: r.Audio, Format: audio.Format{SampleRate: rate, Channels: ch}}, nil
	}
	return audio.Frame{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, media)
}

// Extension returns a file extension matching the request's MIME type, used
// when a backend wants a file name for multipart uploads.
func (r Request) Extension() string {
	media, _, _ := mime.ParseMediaType(r.MIMEType)
	switch {
	case strings.Contains(media, "wav"):
		return ".wav"
	case media == "audio/webm", media == "video/webm":
		return ".webm"
	case media == "audio/ogg":
		return ".ogg"
	case media == "audio/mpeg", media == "audio/mp3":
		return ".mp3"
	case media == "audio/mp4", media == "audio/x-m4a", media == "audio/m4a":
		return ".m4a"
	case media == "audio/flac":
		return ".flac"
	}
	return ".bin"
}
