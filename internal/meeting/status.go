package meeting

// ProcessingStatus is the stage of a [Processor.Process] run.
type ProcessingStatus string

const (
	StatusIdle         ProcessingStatus = "IDLE"
	StatusTranscribing ProcessingStatus = "TRANSCRIBING"
	StatusAnalyzing    ProcessingStatus = "ANALYZING"
	StatusCompleted    ProcessingStatus = "COMPLETED"
	StatusError        ProcessingStatus = "ERROR"
)

// Terminal reports whether no further transition follows s.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}
