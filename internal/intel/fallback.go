package intel

import (
	"context"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/resilience"
)

// FallbackAnalyzer tries several analyzers in order, each behind its own
// circuit breaker.
type FallbackAnalyzer struct {
	group *resilience.FallbackGroup[meeting.Analyzer]
}

var _ meeting.Analyzer = (*FallbackAnalyzer)(nil)

// NewFallbackAnalyzer returns a FallbackAnalyzer with primary first.
func NewFallbackAnalyzer(primary meeting.Analyzer, name string, cfg resilience.FallbackConfig) *FallbackAnalyzer {
	return &FallbackAnalyzer{group: resilience.NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another analyzer.
func (f *FallbackAnalyzer) AddFallback(name string, a meeting.Analyzer) {
	f.group.AddFallback(name, a)
}

// Analyze implements meeting.Analyzer. When every analyzer fails the error
// still matches [ErrAnalysisFailed].
func (f *FallbackAnalyzer) Analyze(ctx context.Context, req meeting.AnalyzeRequest) (*meeting.Analysis, error) {
	return resilience.ExecuteWithResult(ctx, f.group, func(a meeting.Analyzer) (*meeting.Analysis, error) {
		return a.Analyze(ctx, req)
	})
}

// FallbackChatter tries several chat implementations in order.
type FallbackChatter struct {
	group *resilience.FallbackGroup[meeting.Chatter]
}

var _ meeting.Chatter = (*FallbackChatter)(nil)

// NewFallbackChatter returns a FallbackChatter with primary first.
func NewFallbackChatter(primary meeting.Chatter, name string, cfg resilience.FallbackConfig) *FallbackChatter {
	return &FallbackChatter{group: resilience.NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another chat implementation.
func (f *FallbackChatter) AddFallback(name string, c meeting.Chatter) {
	f.group.AddFallback(name, c)
}

// Converse implements meeting.Chatter.
func (f *FallbackChatter) Converse(ctx context.Context, req meeting.ConverseRequest) (meeting.Reply, error) {
	return resilience.ExecuteWithResult(ctx, f.group, func(c meeting.Chatter) (meeting.Reply, error) {
		return c.Converse(ctx, req)
	})
}
