// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push inbound events, end the session from the "remote" side,
// and inspect which frames the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Kind: s2s.EventTurnComplete})
//	sess.End(s2s.ErrRemoteClosed)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutas/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if set, runs before Connect returns. Tests use it to
	// block the handshake or observe the connecting state.
	ConnectHook func(ctx context.Context) error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook, connErr, sess := p.ConnectHook, p.ConnectErr, p.Session
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if connErr != nil {
		return nil, connErr
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. Its Events channel
// is closed exactly once, by End or Close, mirroring a real session.
type Session struct {
	events    chan s2s.Event
	closeOnce sync.Once

	mu sync.Mutex

	// SendMediaErr, if non-nil, is returned by every SendMedia call instead
	// of recording the frame.
	SendMediaErr error

	// Sent records every frame accepted by SendMedia in order.
	Sent []s2s.Media

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	err    error
	closed bool
}

// NewSession returns a Session with a buffered Events channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// Push delivers ev as if the remote engine had sent it. It is a no-op after
// the session ended.
func (s *Session) Push(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// End simulates the remote side ending the session with err.
func (s *Session) End(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
}

// SendMedia records the frame, or returns SendMediaErr. A closed session
// returns s2s.ErrNotReady.
func (s *Session) SendMedia(m s2s.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrNotReady
	}
	if s.SendMediaErr != nil {
		return s.SendMediaErr
	}
	s.Sent = append(s.Sent, m)
	return nil
}

// SentFrames returns a copy of the accepted frames. Thread-safe.
func (s *Session) SentFrames() []s2s.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]s2s.Media(nil), s.Sent...)
}

// SetSendErr changes SendMediaErr. Thread-safe.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendMediaErr = err
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to End, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and closes the Events channel once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
