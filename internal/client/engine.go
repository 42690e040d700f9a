// Package client is the caller side of speech synthesis: the sidecar over
// HTTP or NATS, the local streaming voice, and a manager that falls back
// from the first to the second.
package client

import "strings"

// Engine selects which synthesizer a caller prefers.
type Engine string

const (
	EnginePiper Engine = "piper"
	EngineXTTS  Engine = "xtts"
)

// ParseEngine accepts "xtts" and "xtts-v2" in any case; anything else is piper.
func ParseEngine(s string) Engine {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xtts", "xtts-v2":
		return EngineXTTS
	}
	return EnginePiper
}

// DisplayName is the human-facing label of the engine.
func (e Engine) DisplayName() string {
	if e == EngineXTTS {
		return "XTTS-v2 (Quality/GPU)"
	}
	return "Piper (Fast/CPU)"
}
