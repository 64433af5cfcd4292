package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/pkg/audio"
)

// CloseReasonBusy is the close reason sent to a second concurrent live
// client.
const CloseReasonBusy = "session_already_active"

const (
	outboundQueue = 256
	inboundFrames = 32
	writeTimeout  = 5 * time.Second
)

// liveSlot admits one live session per server.
type liveSlot struct {
	mu     sync.Mutex
	active bool
}

func (l *liveSlot) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return false
	}
	l.active = true
	return true
}

func (l *liveSlot) release() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}

// Messages sent to the browser.
type (
	playMessage struct {
		Type string  `json:"type"`
		ID   uint64  `json:"id"`
		At   float64 `json:"at"` // seconds on the session clock
		Data string  `json:"data"`
	}
	stopMessage struct {
		Type string   `json:"type"`
		IDs  []uint64 `json:"ids"`
	}
	statusMessage struct {
		Type          string  `json:"type"`
		State         string  `json:"state"`
		Language      string  `json:"language"`
		Volume        float64 `json:"volume"`
		Transcript    string  `json:"transcript"`
		LastResponse  string  `json:"lastResponse"`
		SentFrames    int64   `json:"sentFrames"`
		DroppedFrames int64   `json:"droppedFrames"`
		Scheduled     int     `json:"scheduled"`
		CursorMs      int64   `json:"cursorMs"`
		Error         string  `json:"error,omitempty"`
	}
	controlMessage struct {
		Type string `json:"type"`
	}
)

func newStatusMessage(st live.Status) statusMessage {
	m := statusMessage{
		Type:          "status",
		State:         st.State.String(),
		Language:      string(st.Language),
		Volume:        st.Volume,
		Transcript:    st.Transcript,
		LastResponse:  st.LastResponse,
		SentFrames:    st.SentFrames,
		DroppedFrames: st.DroppedFrames,
		Scheduled:     st.Scheduled,
		CursorMs:      st.Cursor.Milliseconds(),
	}
	if st.LastError != nil {
		m.Error = st.LastError.Error()
	}
	return m
}

// liveSession upgrades to a WebSocket and runs a live bridge whose
// microphone is the binary float32-LE frames the browser sends and whose
// speaker is the browser's own audio context.
func (s *Server) liveSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		writeError(w, http.StatusNotImplemented, errors.New("live sessions are not configured"))
		return
	}
	raw := r.URL.Query().Get("language")
	if raw == "" && s.deps.LiveLanguage != nil {
		raw = string(s.deps.LiveLanguage())
	}
	lang, err := meeting.ParseLanguage(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	if !s.live.acquire() {
		_ = conn.Close(websocket.StatusTryAgainLater, CloseReasonBusy)
		return
	}
	defer s.live.release()

	log := observe.Logger(r.Context())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	link := newWSLink(conn, log)
	writerDone := make(chan struct{})
	wctx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(writerDone)
		link.writeLoop(wctx)
	}()

	bridge := s.deps.Live(link.microphone(), link.speaker(),
		live.WithObserver(link.status),
		live.WithLogger(log),
	)
	go link.readLoop(ctx, bridge)

	closeCode, reason := websocket.StatusNormalClosure, ""
	if _, err := bridge.Start(ctx, lang); err != nil {
		closeCode, reason = websocket.StatusInternalError, err.Error()
	} else {
		select {
		case <-bridge.Done():
		case <-ctx.Done():
			bridge.Stop()
			<-bridge.Done()
		}
		if err := bridge.Status().LastError; err != nil {
			reason = err.Error()
		}
	}

	stopWriter()
	<-writerDone
	if in, out := link.in.dropped.Load(), link.dropped.Load(); in > 0 || out > 0 {
		log.Warn("live: session dropped messages", "inbound_frames", in, "outbound", out)
	}
	_ = conn.Close(closeCode, truncateReason(reason))
}

// truncateReason keeps a close reason within the 123 bytes a close frame
// allows.
func truncateReason(s string) string {
	if len(s) <= 123 {
		return s
	}
	return s[:123]
}

// wsLink adapts one WebSocket connection to the bridge's devices.
type wsLink struct {
	conn *websocket.Conn
	log  *slog.Logger
	out  chan any
	in   *wsInput
	// dropped counts outbound messages given up on.
	dropped atomic.Int64
}

func newWSLink(conn *websocket.Conn, log *slog.Logger) *wsLink {
	return &wsLink{
		conn: conn,
		log:  log,
		out:  make(chan any, outboundQueue),
		in:   newWSInput(),
	}
}

// send queues v for the writer. It blocks while the queue is full and gives
// up once ctx ends.
func (l *wsLink) send(ctx context.Context, v any) {
	select {
	case l.out <- v:
	case <-ctx.Done():
	}
}

// sendWithin is send bounded by d. A message not queued in time is dropped
// and counted.
func (l *wsLink) sendWithin(ctx context.Context, v any, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case l.out <- v:
	case <-ctx.Done():
		l.dropped.Add(1)
	case <-t.C:
		l.dropped.Add(1)
	}
}

// status forwards bridge snapshots without blocking; a full queue drops
// the snapshot since a newer one follows.
func (l *wsLink) status(st live.Status) {
	select {
	case l.out <- newStatusMessage(st):
	default:
		l.dropped.Add(1)
	}
}

// writeLoop serialises all outbound messages. When ctx ends it flushes what
// is already queued.
func (l *wsLink) writeLoop(ctx context.Context) {
	for {
		select {
		case v := <-l.out:
			l.write(v)
		case <-ctx.Done():
			for {
				select {
				case v := <-l.out:
					l.write(v)
				default:
					return
				}
			}
		}
	}
}

func (l *wsLink) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		l.log.Error("live: encode message", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageText, b); err != nil {
		l.log.Debug("live: write message", "err", err)
	}
}

// readLoop feeds binary frames to the microphone and handles text control
// messages. The microphone stream ends with the connection.
func (l *wsLink) readLoop(ctx context.Context, bridge *live.Bridge) {
	defer l.in.end()
	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			l.in.push(data)
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "stop" {
				bridge.Stop()
			}
		}
	}
}

func (l *wsLink) microphone() live.Microphone {
	return live.MicrophoneFunc(func(_ context.Context, _ audio.Format, bufferSize int) (audio.Input, error) {
		l.in.open(bufferSize)
		return l.in, nil
	})
}

func (l *wsLink) speaker() live.Speaker {
	return live.SpeakerFunc(func(ctx context.Context, f audio.Format) (audio.Output, error) {
		return newRemoteOutput(f, l), nil
	})
}

// wsInput is the capture stream of the browser microphone. The browser
// sends mono float32-LE at whatever size it records; frames are regrouped
// into the buffer size the bridge asked for. Frames that arrive before the
// bridge opens the stream, or while the backlog is full, are dropped and
// counted.
type wsInput struct {
	frames  chan []float32
	done    chan struct{}
	endOnce sync.Once
	stop    sync.Once
	dropped atomic.Int64

	mu      sync.Mutex
	chunker *audio.Chunker
}

func newWSInput() *wsInput {
	return &wsInput{frames: make(chan []float32, inboundFrames), done: make(chan struct{})}
}

func (in *wsInput) open(bufferSize int) {
	in.mu.Lock()
	in.chunker = audio.NewChunker(bufferSize, 1)
	in.mu.Unlock()
}

func (in *wsInput) Frames() <-chan []float32 { return in.frames }

// push runs on the read loop only.
func (in *wsInput) push(raw []byte) {
	in.mu.Lock()
	c := in.chunker
	in.mu.Unlock()
	if c == nil {
		in.dropped.Add(1)
		return
	}
	c.Push(raw, func(buf []float32) {
		select {
		case <-in.done:
		case in.frames <- buf:
		default:
			in.dropped.Add(1)
		}
	})
}

// end closes the frame channel. Only the read loop calls it.
func (in *wsInput) end() {
	in.endOnce.Do(func() { close(in.frames) })
}

func (in *wsInput) Close() error {
	in.stop.Do(func() { close(in.done) })
	return nil
}

// remoteOutput is a playback context that lives in the browser. Its clock is
// wall time since it was opened; the browser anchors "at" to its own audio
// clock. Completion is modelled with timers so the bridge sees the same
// onEnded semantics as with a local device.
type remoteOutput struct {
	format audio.Format
	link   *wsLink
	start  time.Time
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
	closed bool
}

var _ audio.Output = (*remoteOutput)(nil)

func newRemoteOutput(f audio.Format, link *wsLink) *remoteOutput {
	ctx, cancel := context.WithCancel(context.Background())
	return &remoteOutput{
		format: f,
		link:   link,
		start:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uint64]*time.Timer),
	}
}

func (o *remoteOutput) Format() audio.Format { return o.format }

func (o *remoteOutput) Now() time.Duration { return time.Since(o.start) }

func (o *remoteOutput) Play(pcm []byte, at time.Duration, onEnded func()) (audio.Playback, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, audio.ErrClosed
	}
	o.nextID++
	id := o.nextID
	now := o.Now()
	if at < now {
		at = now
	}
	end := at + o.format.Duration(len(pcm))
	o.timers[id] = time.AfterFunc(end-now, func() {
		o.mu.Lock()
		_, pending := o.timers[id]
		delete(o.timers, id)
		o.mu.Unlock()
		if pending && onEnded != nil {
			onEnded()
		}
	})
	o.mu.Unlock()

	o.link.send(o.ctx, playMessage{
		Type: "play",
		ID:   id,
		At:   at.Seconds(),
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
	return remotePlayback{o: o, id: id}, nil
}

func (o *remoteOutput) stop(id uint64) {
	o.mu.Lock()
	t, ok := o.timers[id]
	delete(o.timers, id)
	o.mu.Unlock()
	if !ok {
		return
	}
	t.Stop()
	o.link.sendWithin(o.ctx, stopMessage{Type: "stop", IDs: []uint64{id}}, writeTimeout)
}

func (o *remoteOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	ids := make([]uint64, 0, len(o.timers))
	for id, t := range o.timers {
		t.Stop()
		ids = append(ids, id)
	}
	clear(o.timers)
	o.mu.Unlock()

	if len(ids) > 0 {
		o.link.sendWithin(o.ctx, stopMessage{Type: "stop", IDs: ids}, writeTimeout)
	}
	o.cancel()
	return nil
}

type remotePlayback struct {
	o  *remoteOutput
	id uint64
}

func (p remotePlayback) Stop() { p.o.stop(p.id) }
