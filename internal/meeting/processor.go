package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/pkg/provider/embeddings"
	"github.com/MrWong99/minutas/pkg/provider/stt"
)

// ErrInvalidInput is wrapped by every request validation error of this
// package.
var ErrInvalidInput = errors.New("meeting: invalid input")

var (
	// ErrEmptyInput is returned when a meeting has neither audio nor text.
	ErrEmptyInput = fmt.Errorf("%w: audio or text is required", ErrInvalidInput)

	// ErrMissingTitle is returned when a meeting has a blank title.
	ErrMissingTitle = fmt.Errorf("%w: title is required", ErrInvalidInput)

	// ErrMissingOwner is returned when no owner identity was supplied.
	ErrMissingOwner = fmt.Errorf("%w: owner is required", ErrInvalidInput)
)

// Input is one meeting to process.
type Input struct {
	Owner    string
	Title    string
	Text     string
	Audio    *Attachment
	Image    *Attachment
	Language Language

	// OnStatus, if set, receives every status transition of this run in
	// order. It is called synchronously.
	OnStatus func(ProcessingStatus)
}

func (in Input) validate() error {
	var errs []error
	if strings.TrimSpace(in.Owner) == "" {
		errs = append(errs, ErrMissingOwner)
	}
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, ErrMissingTitle)
	}
	if in.Audio.Empty() && strings.TrimSpace(in.Text) == "" {
		errs = append(errs, ErrEmptyInput)
	}
	if in.Language != "" && !in.Language.Valid() {
		errs = append(errs, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ErrInvalidLanguage, in.Language))
	}
	return errors.Join(errs...)
}

// Processor runs the meeting pipeline: transcribe, analyse, build the record
// and persist it.
type Processor struct {
	transcriber stt.Provider
	analyzer    Analyzer
	store       Store
	embedder    embeddings.Provider
	now         func() time.Time
	ids         *IDSource
	metrics     *observe.Metrics
	log         *slog.Logger
}

// ProcessorOption configures a [Processor].
type ProcessorOption func(*Processor)

// WithEmbedder makes the processor embed each report summary so that the
// record can be found by [Searcher].
func WithEmbedder(e embeddings.Provider) ProcessorOption {
	return func(p *Processor) { p.embedder = e }
}

// WithClock overrides the clock used for record IDs, dates and timings.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// WithMetrics records pipeline durations on m.
func WithMetrics(m *observe.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// NewProcessor returns a Processor. transcriber may be nil when only text
// input is expected; audio input then fails with stt.ErrTranscriptionFailed.
func NewProcessor(transcriber stt.Provider, analyzer Analyzer, store Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		transcriber: transcriber,
		analyzer:    analyzer,
		store:       store,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.ids = NewIDSource(p.now)
	return p
}

// Process runs the pipeline for in. The OnStatus callback sees
// TRANSCRIBING, ANALYZING and then COMPLETED, or ERROR as soon as a service
// call fails. Validation errors are returned before any transition.
//
// A failure to persist the finished record is logged and not returned; the
// record is still handed back to the caller.
func (p *Processor) Process(ctx context.Context, in Input) (rec *Record, err error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Language == "" {
		in.Language = DefaultLanguage
	}

	ctx, span := observe.StartSpan(ctx, "meeting.process")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With(slog.String("owner", in.Owner))

	start := p.now()
	emit := func(s ProcessingStatus) {
		if in.OnStatus != nil {
			in.OnStatus(s)
		}
	}
	defer func() {
		status := StatusCompleted
		if err != nil {
			status = StatusError
			emit(StatusError)
		}
		if p.metrics != nil {
			p.metrics.PipelineDuration.Record(ctx, p.now().Sub(start).Seconds(),
				metric.WithAttributes(observe.Attr("status", string(status))))
		}
	}()

	emit(StatusTranscribing)
	transcript, err := p.transcript(ctx, in)
	if err != nil {
		return nil, err
	}

	emit(StatusAnalyzing)
	analysis, err := p.analyzer.Analyze(ctx, AnalyzeRequest{
		Transcript: transcript,
		Language:   in.Language,
		Image:      in.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("meeting: analyze: %w", err)
	}

	id, created := p.ids.Next()
	rec = &Record{
		ID:         id,
		OwnerID:    in.Owner,
		Date:       created.UTC().Format(time.RFC3339),
		Title:      strings.TrimSpace(in.Title),
		Transcript: transcript,
		Analysis:   analysis,
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, analysis.Summary())
		if err != nil {
			log.Warn("meeting: embed summary failed, record will not be searchable", "id", id, "err", err)
		} else {
			rec.Embedding = vec
		}
	}
	if err := p.store.Insert(ctx, *rec); err != nil {
		log.Warn("meeting: persist record failed", "id", id, "err", err)
	}

	emit(StatusCompleted)
	log.Info("meeting processed", "id", id, "transcript_chars", len(transcript))
	return rec, nil
}

func (p *Processor) transcript(ctx context.Context, in Input) (string, error) {
	if in.Audio.Empty() {
		return strings.TrimSpace(in.Text), nil
	}
	if p.transcriber == nil {
		return "", fmt.Errorf("meeting: transcribe: %w: no provider configured", stt.ErrTranscriptionFailed)
	}
	text, err := p.transcriber.Transcribe(ctx, stt.Request{
		Audio:    in.Audio.Data,
		MIMEType: in.Audio.MIMEType,
		Language: string(in.Language),
	})
	if err != nil {
		return "", fmt.Errorf("meeting: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("meeting: transcribe: %w: empty transcription", stt.ErrTranscriptionFailed)
	}
	return text, nil
}
