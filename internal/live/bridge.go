// Package live implements the live audio session bridge: a full-duplex voice
// conversation between a local microphone/speaker pair and a remote
// speech-to-speech engine.
//
// A [Bridge] owns at most one session at a time. Once connected, two
// goroutines drive it. The capture loop turns every microphone buffer into a
// base64 PCM frame and hands it to the engine without waiting; frames the
// engine cannot take are dropped and counted. The receive loop dispatches
// typed engine events: audio is scheduled gaplessly on the output clock,
// transcription text accumulates until the turn completes, and an
// interruption flushes everything still queued for playback.
//
// Every way a session can end (Stop, a remote error, a remote close, the
// microphone going away) funnels into the same idempotent teardown.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/pkg/audio"
	"github.com/MrWong99/minutas/pkg/provider/s2s"
)

// DefaultBufferSize is the number of samples per capture buffer.
const DefaultBufferSize = 4096

// Microphone opens a capture stream. Implementations return an error when
// access is refused. ctx bounds the opening only; the stream lives until its
// Close.
type Microphone interface {
	Open(ctx context.Context, f audio.Format, bufferSize int) (audio.Input, error)
}

// Speaker opens a playback context.
type Speaker interface {
	Open(ctx context.Context, f audio.Format) (audio.Output, error)
}

// MicrophoneFunc adapts a function to [Microphone].
type MicrophoneFunc func(ctx context.Context, f audio.Format, bufferSize int) (audio.Input, error)

// Open calls fn.
func (fn MicrophoneFunc) Open(ctx context.Context, f audio.Format, bufferSize int) (audio.Input, error) {
	return fn(ctx, f, bufferSize)
}

// SpeakerFunc adapts a function to [Speaker].
type SpeakerFunc func(ctx context.Context, f audio.Format) (audio.Output, error)

// Open calls fn.
func (fn SpeakerFunc) Open(ctx context.Context, f audio.Format) (audio.Output, error) {
	return fn(ctx, f)
}

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithObserver registers fn to receive a [Status] snapshot after every state
// change. Observers may be called concurrently from the session goroutines
// and must not block; calling [Bridge.Stop] from an observer is allowed.
func WithObserver(fn func(Status)) Option {
	return func(b *Bridge) { b.observers = append(b.observers, fn) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithFormats overrides the capture and playback formats. The defaults are
// [audio.LiveInput] and [audio.LiveOutput].
func WithFormats(in, out audio.Format) Option {
	return func(b *Bridge) {
		b.inFormat = in
		b.outFormat = out
	}
}

// WithBufferSize sets the capture buffer size in samples.
func WithBufferSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithVoice selects the engine voice. Empty keeps the provider default.
func WithVoice(voice string) Option {
	return func(b *Bridge) { b.voice = voice }
}

// Bridge is a live voice session bridge. It is safe for concurrent use.
type Bridge struct {
	provider s2s.Provider
	mic      Microphone
	speaker  Speaker

	inFormat   audio.Format
	outFormat  audio.Format
	bufferSize int
	voice      string
	observers  []func(Status)
	metrics    *observe.Metrics
	log        *slog.Logger

	mu           sync.Mutex
	state        State
	run          *run
	lastDone     chan struct{}
	language     meeting.Language
	volume       float64
	transcript   string
	lastResponse string
	sent         int64
	dropped      int64
	lastErr      error
}

// run holds everything owned by one session. Goroutines compare their run
// with Bridge.run before touching shared state, so a torn-down run can never
// leak into the next one.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	in    audio.Input
	out   audio.Output
	sess  s2s.SessionHandle
	sched *scheduler
}

// New creates a Bridge. The bridge does not touch any device until
// [Bridge.Start].
func New(provider s2s.Provider, mic Microphone, speaker Speaker, opts ...Option) *Bridge {
	b := &Bridge{
		provider:   provider,
		mic:        mic,
		speaker:    speaker,
		inFormat:   audio.LiveInput,
		outFormat:  audio.LiveOutput,
		bufferSize: DefaultBufferSize,
		language:   meeting.DefaultLanguage,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.lastDone = make(chan struct{})
	close(b.lastDone)
	return b
}

// Instructions returns the system instruction for a live session in lang.
func Instructions(lang meeting.Language) string {
	return "You are the 'Cerebro Corporativo' (Corporate Brain). You are a senior strategy consultant. " +
		"Respond concisely and professionally. Language: " + lang.Name() + "."
}

// Start opens the microphone, the output context and the engine session, in
// that order. On any failure everything acquired so far is released, the
// state returns to disconnected and the error wraps [ErrMicrophoneDenied],
// [ErrOutputUnavailable] or [ErrConnectionFailed].
//
// ctx bounds the start-up only; the session runs until [Bridge.Stop] or a
// remote error or close.
func (b *Bridge) Start(ctx context.Context, lang meeting.Language) (State, error) {
	if lang == "" {
		lang = meeting.DefaultLanguage
	}
	if !lang.Valid() {
		return StateDisconnected, fmt.Errorf("live: start: %w: %q", meeting.ErrInvalidLanguage, lang)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{ctx: rctx, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	if b.state != StateDisconnected {
		st := b.state
		b.mu.Unlock()
		cancel()
		return st, ErrSessionAlreadyActive
	}
	b.state = StateConnecting
	b.run = r
	b.lastDone = r.done
	b.language = lang
	b.volume, b.transcript = 0, ""
	b.sent, b.dropped = 0, 0
	b.lastErr = nil
	b.mu.Unlock()
	b.notify()

	// Start-up steps are cancelled by either the caller or a concurrent Stop.
	sctx, scancel := context.WithCancel(ctx)
	defer scancel()
	stopAfter := context.AfterFunc(rctx, scancel)
	defer stopAfter()

	in, err := b.mic.Open(sctx, b.inFormat, b.bufferSize)
	if err != nil {
		return b.abort(r, fmt.Errorf("%w: %w", ErrMicrophoneDenied, err))
	}
	if !b.attach(r, func() { r.in = in }) {
		_ = in.Close()
		return b.aborted()
	}

	out, err := b.speaker.Open(sctx, b.outFormat)
	if err != nil {
		return b.abort(r, fmt.Errorf("%w: %w", ErrOutputUnavailable, err))
	}
	sched := newScheduler(out, b.notify)
	if !b.attach(r, func() { r.out, r.sched = out, sched }) {
		_ = out.Close()
		return b.aborted()
	}

	sess, err := b.provider.Connect(sctx, s2s.SessionConfig{
		Instructions:        Instructions(lang),
		Voice:               b.voice,
		Language:            lang.BCP47(),
		OutputTranscription: true,
	})
	if err != nil {
		return b.abort(r, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
	if !b.attach(r, func() {
		r.sess = sess
		b.state = StateConnected
		b.metrics.ActiveSessions.Add(context.Background(), 1)
	}) {
		_ = sess.Close()
		return b.aborted()
	}

	r.wg.Add(2)
	go b.captureLoop(r)
	go b.receiveLoop(r)
	go func() {
		r.wg.Wait()
		close(r.done)
	}()
	if !b.current(r) {
		return b.aborted()
	}

	b.log.Info("live session connected",
		slog.String("language", string(lang)),
		slog.String("input", b.inFormat.String()),
		slog.String("output", b.outFormat.String()),
	)
	b.notify()
	return StateConnected, nil
}

// attach runs fn under the bridge lock if r is still the current run.
func (b *Bridge) attach(r *run, fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run != r {
		return false
	}
	fn()
	return true
}

func (b *Bridge) abort(r *run, err error) (State, error) {
	if !b.teardown(r, err) {
		// Stop won the race; report the start as aborted.
		return b.aborted()
	}
	b.log.Warn("live session failed to start", "err", err)
	return StateDisconnected, err
}

func (b *Bridge) aborted() (State, error) {
	return StateDisconnected, fmt.Errorf("%w: %w", ErrConnectionFailed, context.Canceled)
}

// Stop tears down the current session, if any. It releases the engine
// session, both audio contexts and all scheduled playback before returning.
// Stop is idempotent and safe to call from any goroutine.
func (b *Bridge) Stop() {
	b.mu.Lock()
	r := b.run
	b.mu.Unlock()
	if r == nil {
		return
	}
	b.teardown(r, nil)
}

// Done returns a channel that is closed once the goroutines of the current
// (or most recent) session have exited.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDone
}

// Status returns a snapshot of the bridge.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	st := Status{
		State:         b.state,
		Language:      b.language,
		Volume:        b.volume,
		Transcript:    b.transcript,
		LastResponse:  b.lastResponse,
		SentFrames:    b.sent,
		DroppedFrames: b.dropped,
		LastError:     b.lastErr,
	}
	var sched *scheduler
	if b.run != nil {
		sched = b.run.sched
	}
	b.mu.Unlock()

	if sched != nil {
		st.Scheduled, st.Cursor = sched.snapshot()
	}
	return st
}

// teardown releases everything r holds. Only the first call for a given run
// has any effect; it reports whether this call did the work.
func (b *Bridge) teardown(r *run, cause error) bool {
	b.mu.Lock()
	if b.run != r {
		b.mu.Unlock()
		return false
	}
	wasConnected := b.state == StateConnected
	b.run = nil
	b.state = StateDisconnected
	b.volume = 0
	b.transcript = ""
	b.lastErr = cause
	in, out, sess, sched := r.in, r.out, r.sess, r.sched
	b.mu.Unlock()

	r.cancel()
	if sess != nil {
		_ = sess.Close()
	}
	if in != nil {
		_ = in.Close()
	}
	if sched != nil {
		sched.flush()
	}
	if out != nil {
		_ = out.Close()
	}
	if sess == nil {
		// No goroutines were started.
		close(r.done)
	}

	if wasConnected {
		b.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if cause != nil {
		b.log.Warn("live session ended", "err", cause)
	} else {
		b.log.Info("live session stopped")
	}
	b.notify()
	return true
}

func (b *Bridge) notify() {
	if len(b.observers) == 0 {
		return
	}
	st := b.Status()
	for _, fn := range b.observers {
		fn(st)
	}
}

// ── Capture ──────────────────────────────────────────────────────────────────

func (b *Bridge) captureLoop(r *run) {
	defer r.wg.Done()
	frames := r.in.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case buf, ok := <-frames:
			if !ok {
				b.teardown(r, ErrCaptureEnded)
				return
			}
			b.sendFrame(r, buf)
		}
	}
}

// sendFrame measures, encodes and hands one capture buffer to the engine.
// The engine never blocks the capture loop; a frame it cannot take is gone.
func (b *Bridge) sendFrame(r *run, buf []float32) {
	vol := audio.RMS(buf)
	err := r.sess.SendMedia(s2s.Media{
		MIMEType: b.inFormat.PCMMIMEType(),
		Data:     audio.EncodeFrame(buf),
	})

	b.mu.Lock()
	if b.run != r {
		b.mu.Unlock()
		return
	}
	b.volume = vol
	if err != nil {
		b.dropped++
	} else {
		b.sent++
	}
	b.mu.Unlock()

	if err != nil {
		b.metrics.LiveFramesDropped.Add(r.ctx, 1)
		if !errors.Is(err, s2s.ErrNotReady) {
			b.log.Debug("live frame dropped", "err", err)
		}
	} else {
		b.metrics.LiveFramesSent.Add(r.ctx, 1)
	}
	b.notify()
}

// ── Receive ──────────────────────────────────────────────────────────────────

func (b *Bridge) receiveLoop(r *run) {
	defer r.wg.Done()
	for ev := range r.sess.Events() {
		if !b.dispatch(r, ev) {
			return
		}
	}

	// The event stream ended. If the run is still current the engine hung up.
	cause := r.sess.Err()
	switch {
	case cause == nil, errors.Is(cause, s2s.ErrRemoteClosed):
		cause = ErrRemoteClosed
	default:
		cause = fmt.Errorf("%w: %w", ErrRemoteError, cause)
	}
	b.teardown(r, cause)
}

// dispatch applies one engine event. It returns false once the run is over.
func (b *Bridge) dispatch(r *run, ev s2s.Event) bool {
	if !b.current(r) {
		return false
	}

	switch ev.Kind {
	case s2s.EventAudio:
		pcm, err := audio.DecodeFrame(ev.Data)
		if err != nil {
			b.log.Warn("live: undecodable audio chunk", "err", err)
			return true
		}
		start, err := r.sched.schedule(pcm)
		if err != nil {
			b.log.Debug("live: playback not scheduled", "err", err)
			return true
		}
		b.metrics.LivePlaybackScheduled.Add(r.ctx, 1)
		b.log.Debug("live audio scheduled",
			slog.Duration("start", start),
			slog.Duration("length", b.outFormat.Duration(len(pcm))),
		)

	case s2s.EventOutputTranscript:
		b.update(r, func() { b.transcript += ev.Text })

	case s2s.EventInputTranscript:
		b.log.Debug("live input transcript", slog.String("text", ev.Text))
		return true

	case s2s.EventTurnComplete:
		// Reads the accumulator under the lock so the promoted text is the
		// latest, never a stale copy.
		b.update(r, func() {
			if b.transcript != "" {
				b.lastResponse = b.transcript
			}
			b.transcript = ""
		})

	case s2s.EventInterrupted:
		n := r.sched.flush()
		b.update(r, func() { b.transcript = "" })
		b.metrics.LiveInterruptions.Add(r.ctx, 1,
			metric.WithAttributes(observe.Attr("had_playback", fmt.Sprint(n > 0))))
		b.log.Debug("live turn interrupted", slog.Int("flushed", n))

	case s2s.EventError:
		b.teardown(r, fmt.Errorf("%w: %s", ErrRemoteError, ev.Text))
		return false

	default:
		return true
	}

	b.notify()
	return true
}

func (b *Bridge) current(r *run) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.run == r
}

func (b *Bridge) update(r *run, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == r {
		fn()
	}
}
