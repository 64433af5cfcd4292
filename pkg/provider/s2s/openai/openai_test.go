package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/minutas/pkg/provider/s2s"
	"github.com/MrWong99/minutas/pkg/provider/s2s/openai"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSession reads session.update and confirms it.
func acceptSession(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "session.created"})
	var update map[string]any
	readJSON(t, conn, &update)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
	return update
}

func newProvider(srv *httptest.Server, opts ...openai.Option) *openai.Provider {
	return openai.New("sk-test", append([]openai.Option{openai.WithBaseURL(wsURL(srv))}, opts...)...)
}

func collect(t *testing.T, h s2s.SessionHandle, n int) []s2s.Event {
	t.Helper()
	var got []s2s.Event
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timeout: got %d of %d events", len(got), n)
		}
	}
	return got
}

func waitClosed(t *testing.T, h s2s.SessionHandle) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for Events to close")
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()
	got := make(chan map[string]any, 1)
	var auth, model string
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth = r.Header.Get("Authorization")
		model = r.URL.Query().Get("model")
		got <- acceptSession(t, conn)
		conn.Read(context.Background()) //nolint:errcheck
	})

	h, err := newProvider(srv, openai.WithModel("gpt-test")).Connect(context.Background(), s2s.SessionConfig{
		Instructions:       "be brief",
		Voice:              "verse",
		Language:           "es-ES",
		InputTranscription: true,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	update := <-got
	if auth != "Bearer sk-test" || model != "gpt-test" {
		t.Errorf("auth = %q model = %q", auth, model)
	}
	sess, _ := update["session"].(map[string]any)
	if update["type"] != "session.update" || sess["instructions"] != "be brief" || sess["voice"] != "verse" {
		t.Errorf("update = %v", update)
	}
	tr, _ := sess["input_audio_transcription"].(map[string]any)
	if tr["language"] != "es" {
		t.Errorf("input transcription = %v", tr)
	}
}

func TestConnect_ErrorDuringHandshake(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "bad key"}})
	})
	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("Connect err = %v", err)
	}
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Read(context.Background()) //nolint:errcheck
		time.Sleep(time.Second)
	})
	_, err := newProvider(srv, openai.WithHandshakeTimeout(50*time.Millisecond)).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil {
		t.Fatal("want handshake timeout")
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_Translation(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": "AAAA"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hola"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hi"})
		writeJSON(t, conn, map[string]any{"type": "rate_limits.updated"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		conn.Read(context.Background()) //nolint:errcheck
	})

	h, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	got := collect(t, h, 5)
	want := []s2s.Event{
		{Kind: s2s.EventAudio, Data: "AAAA", MIMEType: "audio/pcm;rate=24000"},
		{Kind: s2s.EventOutputTranscript, Text: "Hola"},
		{Kind: s2s.EventInputTranscript, Text: "hi"},
		{Kind: s2s.EventTurnComplete},
		{Kind: s2s.EventInterrupted},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEvents_RemoteError(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "quota"}})
		conn.Read(context.Background()) //nolint:errcheck
	})
	h, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	got := collect(t, h, 1)
	if got[0].Kind != s2s.EventError || got[0].Text != "quota" {
		t.Errorf("event = %+v", got[0])
	}
	waitClosed(t, h)
	if h.Err() == nil || !strings.Contains(h.Err().Error(), "quota") {
		t.Errorf("Err = %v", h.Err())
	}
}

func TestEvents_RemoteClose(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
	})
	h, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	waitClosed(t, h)
	if !errors.Is(h.Err(), s2s.ErrRemoteClosed) {
		t.Errorf("Err = %v, want ErrRemoteClosed", h.Err())
	}
}

// ── SendMedia / Close ─────────────────────────────────────────────────────────

func TestSendMedia_AppendsAudio(t *testing.T) {
	t.Parallel()
	got := make(chan map[string]any, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		for range 2 {
			var msg map[string]any
			readJSON(t, conn, &msg)
			got <- msg
		}
	})
	h, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	for _, data := range []string{"AQI=", "AwQ="} {
		if err := h.SendMedia(s2s.Media{MIMEType: "audio/pcm;rate=24000", Data: data}); err != nil {
			t.Fatalf("SendMedia: %v", err)
		}
	}
	for _, want := range []string{"AQI=", "AwQ="} {
		select {
		case msg := <-got:
			if msg["type"] != "input_audio_buffer.append" || msg["audio"] != want {
				t.Errorf("msg = %v, want audio %q", msg, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("frame not received")
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		conn.Read(context.Background()) //nolint:errcheck
	})
	h, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	waitClosed(t, h)
	if h.Err() != nil {
		t.Errorf("Err after local close = %v", h.Err())
	}
	if err := h.SendMedia(s2s.Media{Data: "AA=="}); !errors.Is(err, s2s.ErrNotReady) {
		t.Errorf("SendMedia after close = %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	c := openai.New("k").Capabilities()
	if c.InputSampleRate != 24000 || c.OutputSampleRate != 24000 || len(c.Voices) == 0 {
		t.Errorf("caps = %+v", c)
	}
}
