package models

// VerdictLabel classifies a single analyzed video frame.
type VerdictLabel string

const (
	VerdictLive      VerdictLabel = "live"
	VerdictSpoof     VerdictLabel = "spoof"
	VerdictUncertain VerdictLabel = "uncertain"
)

// Verdict is one classification result for one captured frame, streamed
// from the vision endpoint to the client in frame order.
type Verdict struct {
	Label      VerdictLabel `json:"label"`
	Confidence float64      `json:"confidence"` // 0-1 score for the label
	FrameSeq   int          `json:"frame_seq"`
	Status     string       `json:"status,omitempty"` // optional human readable progress message
}
