package api_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/minutas/internal/api"
	"github.com/MrWong99/minutas/internal/live"
	"github.com/MrWong99/minutas/pkg/audio"
	"github.com/MrWong99/minutas/pkg/provider/s2s"
	s2smock "github.com/MrWong99/minutas/pkg/provider/s2s/mock"
)

type wsMessage struct {
	Type       string   `json:"type"`
	ID         uint64   `json:"id"`
	At         float64  `json:"at"`
	Data       string   `json:"data"`
	IDs        []uint64 `json:"ids"`
	State      string   `json:"state"`
	Language   string   `json:"language"`
	SentFrames int64    `json:"sentFrames"`
}

func newLiveEnv(t *testing.T) (*env, *s2smock.Session) {
	t.Helper()
	sess := s2smock.NewSession()
	provider := &s2smock.Provider{Session: sess}
	e := newEnv(t, func(d *api.Deps) {
		d.Live = func(mic live.Microphone, speaker live.Speaker, opts ...live.Option) *live.Bridge {
			return live.New(provider, mic, speaker, append(opts, live.WithBufferSize(4))...)
		}
	})
	return e, sess
}

func dial(t *testing.T, ctx context.Context, e *env, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/live" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readUntil returns the first message for which match reports true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var m wsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(m) {
			return m
		}
	}
}

func floatFrame(samples ...float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

func TestLive_Session(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, sess := newLiveEnv(t)
	conn := dial(t, ctx, e, "?language=en")

	st := readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "status" && m.State == "connected" })
	if st.Language != "en" {
		t.Errorf("language = %q, want en", st.Language)
	}

	// Browser frames of any size are regrouped into 4-sample buffers.
	for _, frame := range [][]byte{floatFrame(0.1, -0.1), floatFrame(0.5, 0, 0.2, 0.3), floatFrame(0.4, 0.1)} {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatal(err)
		}
	}
	readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "status" && m.SentFrames >= 2 })
	got := sess.SentFrames()
	if len(got) != 2 {
		t.Fatalf("engine frames = %d, want 2", len(got))
	}
	for i, f := range got {
		if len(f.Data) != 8 {
			t.Errorf("frame %d = %d bytes, want one 4-sample PCM16 buffer", i, len(f.Data))
		}
	}

	pcm := make([]byte, audio.LiveOutput.SampleRate/10*2) // 100ms
	sess.Push(s2s.Event{
		Kind:     s2s.EventAudio,
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: audio.LiveOutput.PCMMIMEType(),
	})
	play := readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "play" })
	raw, err := base64.StdEncoding.DecodeString(play.Data)
	if err != nil || len(raw) != len(pcm) {
		t.Errorf("play data = %d bytes (%v), want %d", len(raw), err, len(pcm))
	}
	if play.ID == 0 || play.At < 0 {
		t.Errorf("play = %+v", play)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
				t.Errorf("close status = %v (%v), want normal closure", got, err)
			}
			break
		}
	}
	if sess.Closes() == 0 {
		t.Error("engine session not closed")
	}
}

func TestLive_SecondSessionRejected(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, _ := newLiveEnv(t)

	first := dial(t, ctx, e, "")
	readUntil(t, ctx, first, func(m wsMessage) bool { return m.Type == "status" && m.State == "connected" })

	second := dial(t, ctx, e, "")
	_, _, err := second.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("second Read = %v, want close", err)
	}
	if ce.Code != websocket.StatusTryAgainLater || ce.Reason != api.CloseReasonBusy {
		t.Errorf("close = %d %q, want try-again-later %q", ce.Code, ce.Reason, api.CloseReasonBusy)
	}
}

func TestLive_ClientDisconnectEndsSession(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, sess := newLiveEnv(t)

	conn := dial(t, ctx, e, "")
	readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "status" && m.State == "connected" })
	_ = conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for sess.Closes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine session still open after client left")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The slot is free again.
	next := dial(t, ctx, e, "")
	readUntil(t, ctx, next, func(m wsMessage) bool { return m.Type == "status" })
}

func TestLive_BadLanguage(t *testing.T) {
	t.Parallel()
	e, _ := newLiveEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/live?language=fr"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("Dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("resp = %+v, want 400", resp)
	}
}
