package audit

import "time"

// Entry is a single audit log record.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"ts"`
	PrevHash string    `json:"prev_hash"`
	RunID    string    `json:"run_id,omitempty"` // empty if execution never started
	Source   string    `json:"source"`           // "cli" or "mcp"
	Mode     string    `json:"mode"`             // "spawn", "output" or "status"
	Pipeline string    `json:"pipeline"`         // stages in description syntax
	Programs []string  `json:"programs"`         // program of each stage
	Allow    bool      `json:"allow,omitempty"`  // true if config rules were bypassed
	ExitCode int       `json:"exit_code"`        // terminal stage exit code; -1 on error
	Phase    string    `json:"phase,omitempty"`  // failing phase, if any
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"duration_ms"`
	Cwd      string    `json:"cwd"`
	Hash     string    `json:"hash"` // SHA-256 of this entry with hash empty
}

// Record is what a caller supplies for one execution; the Logger fills in
// sequencing, time and hashes.
type Record struct {
	RunID    string
	Source   string
	Mode     string
	Pipeline string
	Programs []string
	Allow    bool
	ExitCode int
	Phase    string
	Err      error
	Duration time.Duration
	Cwd      string
}
