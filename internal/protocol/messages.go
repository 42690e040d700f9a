package protocol

import "time"

// SynthesisRequest is the body of POST /tts and the payload of tts.synthesize.
type SynthesisRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	SpeakerWAV string `json:"speaker_wav,omitempty"`
}

// ErrorResponse is the JSON body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Speaker string `json:"speaker,omitempty"`
}

// SpeakersResponse is returned by GET /speakers.
type SpeakersResponse struct {
	Speakers []string `json:"speakers"`
}

// JournalEntry is one recent synthesis as exposed by GET /journal.
type JournalEntry struct {
	RequestID  string    `json:"request_id"`
	Mode       string    `json:"mode"`
	Speaker    string    `json:"speaker,omitempty"`
	Language   string    `json:"language"`
	TextChars  int       `json:"text_chars"`
	AudioBytes int       `json:"audio_bytes"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalResponse wraps the journal listing.
type JournalResponse struct {
	Events []JournalEntry `json:"events"`
}

// BusReply answers every tts.* bus request. Exactly one of AudioBase64,
// Speakers or Status carries the payload when Error is empty.
type BusReply struct {
	RequestID   string   `json:"request_id,omitempty"`
	AudioBase64 string   `json:"audio_base64,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Speaker     string   `json:"speaker,omitempty"`
	Speakers    []string `json:"speakers,omitempty"`
	Status      string   `json:"status,omitempty"`
	Model       string   `json:"model,omitempty"`
	Error       string   `json:"error,omitempty"`
	Kind        string   `json:"kind,omitempty"`
}

// NodeAnnouncement advertises this node and its capabilities on the bus.
type NodeAnnouncement struct {
	NodeID       string    `json:"node_id"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	Model        string    `json:"model"`
	Ready        bool      `json:"ready"`
	Timestamp    time.Time `json:"timestamp"`
}

// NodeHeartbeat is published periodically while the node runs.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	State     string    `json:"state"`
	Ready     bool      `json:"ready"`
	Model     string    `json:"model"`
	Speaker   string    `json:"speaker,omitempty"`
	Speakers  int       `json:"speakers"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSynthesize      = "tts.synthesize"
	SubjectSpeakers        = "tts.speakers"
	SubjectHealth          = "tts.health"
	SubjectNodeAnnounce    = "ctrl.node.announce"
	SubjectHeartbeatPrefix = "ctrl.node.heartbeat"
)

// HeartbeatSubject returns the per-node heartbeat subject.
func HeartbeatSubject(nodeID string) string {
	return SubjectHeartbeatPrefix + "." + nodeID
}
