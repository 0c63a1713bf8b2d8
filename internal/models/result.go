package models

// Failure stages reported in a pass result
const (
	StageFetch     = "fetch"
	StagePersist   = "persist"
	StageDuplicate = "duplicate"
	StageDispose   = "dispose"
)

// Detail describes one successfully processed message
type Detail struct {
	Subject    string `json:"subject"`
	Identifier string `json:"identifier"`
}

// Failure describes one message-local failure
type Failure struct {
	Identifier string `json:"identifier"`
	Stage      string `json:"stage"`
	Reason     string `json:"reason"`
}

// SyncPassResult summarizes one synchronization pass
type SyncPassResult struct {
	TraceID         string    `json:"traceId"`
	Seen            int       `json:"seen"`
	Processed       []Detail  `json:"processed"`
	Failures        []Failure `json:"failures,omitempty"`
	WatermarkBefore Watermark `json:"watermarkBefore"`
	WatermarkAfter  Watermark `json:"watermarkAfter"`
	Guarantee       string    `json:"guarantee"`
}

func (r *SyncPassResult) ProcessedCount() int {
	return len(r.Processed)
}
