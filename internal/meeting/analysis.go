package meeting

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAnalysis is wrapped by [Analysis.Validate] and [ParseAnalysis].
var ErrInvalidAnalysis = errors.New("meeting: invalid analysis")

// Priority ranks a next step.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists every accepted [Priority] in schema order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// SentimentType is the overall mood of a meeting.
type SentimentType string

const (
	SentimentPositive SentimentType = "Positive"
	SentimentNeutral  SentimentType = "Neutral"
	SentimentNegative SentimentType = "Negative"
	SentimentTense    SentimentType = "Tense"
)

// SentimentTypes lists every accepted [SentimentType] in schema order.
var SentimentTypes = []SentimentType{SentimentPositive, SentimentNeutral, SentimentNegative, SentimentTense}

// Analysis is the strategic report produced for one meeting.
//
// Slice and struct fields are pointers or nil-able so that [ParseAnalysis]
// can tell a missing field from an empty one.
type Analysis struct {
	ExecutiveSummary  string     `json:"executiveSummary"`
	Conclusions       []string   `json:"conclusions"`
	NextSteps         []NextStep `json:"nextSteps"`
	Topics            []Topic    `json:"topics"`
	MindMap           *MindMap   `json:"mindMap"`
	Sentiment         *Sentiment `json:"sentiment"`
	ProductivityScore *float64   `json:"productivityScore"`
	AlignmentScore    *float64   `json:"alignmentScore"`
	DetectedRisks     []string   `json:"detectedRisks"`
	Advisors          []Advisor  `json:"advisors"`
}

// NextStep is one action item.
type NextStep struct {
	Action   string   `json:"action"`
	Owner    string   `json:"owner"`
	Date     string   `json:"date"`
	Context  string   `json:"context"`
	Priority Priority `json:"priority"`
	Effort   float64  `json:"effort"`
	Impact   float64  `json:"impact"`
}

// Topic is a discussed subject.
type Topic struct {
	Title            string `json:"title"`
	DurationEstimate string `json:"duration_estimate,omitempty"`
	KeyTakeaway      string `json:"key_takeaway"`
}

// MindMap is a one-level tree of the discussion.
type MindMap struct {
	Center   string   `json:"center"`
	Branches []Branch `json:"branches"`
}

// Branch is a labelled group of mind-map items.
type Branch struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}

// Sentiment describes the mood of the meeting.
type Sentiment struct {
	Type           SentimentType `json:"type"`
	Score          float64       `json:"score"`
	Interpretation string        `json:"interpretation"`
}

// Advisor is feedback from one simulated expert role.
type Advisor struct {
	Role     string `json:"role"`
	Critique string `json:"critique"`
	Advice   string `json:"advice"`
}

// ParseAnalysis decodes a model answer and validates it. Code fences around
// the JSON are tolerated.
func ParseAnalysis(raw string) (*Analysis, error) {
	raw = stripFence(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidAnalysis)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidAnalysis, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Validate checks that every required field is present and that enums and
// ranges hold. All violations are reported together.
func (a *Analysis) Validate() error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%s is required", field))
	}

	if strings.TrimSpace(a.ExecutiveSummary) == "" {
		missing("executiveSummary")
	}
	if a.Conclusions == nil {
		missing("conclusions")
	}
	if a.NextSteps == nil {
		missing("nextSteps")
	}
	if a.Topics == nil {
		missing("topics")
	}
	if a.MindMap == nil {
		missing("mindMap")
	}
	if a.Sentiment == nil {
		missing("sentiment")
	}
	if a.ProductivityScore == nil {
		missing("productivityScore")
	}
	if a.AlignmentScore == nil {
		missing("alignmentScore")
	}
	if a.DetectedRisks == nil {
		missing("detectedRisks")
	}
	if a.Advisors == nil {
		missing("advisors")
	}

	for i, s := range a.NextSteps {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("nextSteps[%d]: %w", i, err))
		}
	}
	for i, tp := range a.Topics {
		if tp.Title == "" || tp.KeyTakeaway == "" {
			errs = append(errs, fmt.Errorf("topics[%d]: title and key_takeaway are required", i))
		}
	}
	if m := a.MindMap; m != nil {
		if m.Center == "" {
			errs = append(errs, errors.New("mindMap.center is required"))
		}
		if m.Branches == nil {
			errs = append(errs, errors.New("mindMap.branches is required"))
		}
		for i, b := range m.Branches {
			if b.Label == "" || b.Items == nil {
				errs = append(errs, fmt.Errorf("mindMap.branches[%d]: label and items are required", i))
			}
		}
	}
	if s := a.Sentiment; s != nil {
		if !validSentiment(s.Type) {
			errs = append(errs, fmt.Errorf("sentiment.type %q is not one of %v", s.Type, SentimentTypes))
		}
		if s.Interpretation == "" {
			errs = append(errs, errors.New("sentiment.interpretation is required"))
		}
	}
	if p := a.AlignmentScore; p != nil && (*p < 0 || *p > 100) {
		errs = append(errs, fmt.Errorf("alignmentScore %v is outside 0..100", *p))
	}
	for i, ad := range a.Advisors {
		if ad.Role == "" || ad.Critique == "" || ad.Advice == "" {
			errs = append(errs, fmt.Errorf("advisors[%d]: role, critique and advice are required", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidAnalysis, errors.Join(errs...))
}

func (s NextStep) validate() error {
	var errs []error
	if s.Action == "" {
		errs = append(errs, errors.New("action is required"))
	}
	if s.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if !validPriority(s.Priority) {
		errs = append(errs, fmt.Errorf("priority %q is not one of %v", s.Priority, Priorities))
	}
	if s.Effort < 1 || s.Effort > 5 {
		errs = append(errs, fmt.Errorf("effort %v is outside 1..5", s.Effort))
	}
	if s.Impact < 1 || s.Impact > 5 {
		errs = append(errs, fmt.Errorf("impact %v is outside 1..5", s.Impact))
	}
	return errors.Join(errs...)
}

func validPriority(p Priority) bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

func validSentiment(t SentimentType) bool {
	for _, v := range SentimentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Summary returns the executive summary and conclusions as plain text. It
// is the text embedded for semantic recall.
func (a *Analysis) Summary() string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(a.ExecutiveSummary)
	for _, c := range a.Conclusions {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}
