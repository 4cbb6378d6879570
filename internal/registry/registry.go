// Package registry reads the session registry document maintained by the
// external agent runtime. The file is rewritten frequently by another
// process, so reads are always fresh: nothing is cached and nothing is ever
// written back.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// MainSessionKey is the conventional key of the bot's main session.
const MainSessionKey = "agent:main:main"

// Record is one session's metadata as written by the agent runtime.
type Record struct {
	// SessionID identifies the transcript file (<id>.jsonl)
	SessionID string `json:"sessionId"`

	// UpdatedAt is the last known activity, epoch millis
	UpdatedAt int64 `json:"updatedAt"`

	// AbortedLastRun is set by the runtime when a run errored or was killed
	AbortedLastRun bool `json:"abortedLastRun,omitempty"`

	// Label is the human-readable session name
	Label string `json:"label,omitempty"`

	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`
}

// Session pairs a registry key with its record.
type Session struct {
	Key string
	Record
}

// IsSubagent reports whether a session key follows the spawned sub-agent
// convention (contains a ":subagent:" segment).
func IsSubagent(key string) bool {
	return strings.Contains(key, ":subagent:")
}

// Reader reads the registry file. Every call re-reads current contents.
type Reader struct {
	// Path is the registry JSON document location
	Path string
}

// NewReader creates a reader for the given registry path.
func NewReader(path string) *Reader {
	return &Reader{Path: path}
}

// Load reads and parses the full registry document.
func (r *Reader) Load() (map[string]Record, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read session registry: %w", err)
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse session registry: %w", err)
	}
	return records, nil
}

// List returns all sessions sorted by key for stable output.
func (r *Reader) List() ([]Session, error) {
	records, err := r.Load()
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(records))
	for key, rec := range records {
		sessions = append(sessions, Session{Key: key, Record: rec})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Key < sessions[j].Key
	})
	return sessions, nil
}

// Get returns the record for one session key.
func (r *Reader) Get(key string) (Record, bool, error) {
	records, err := r.Load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[key]
	return rec, ok, nil
}

// ActiveWithin returns sessions whose updatedAt falls within the given window
// of now, sorted by key. Used to scope fleet-wide abort operations to
// sessions that plausibly still have a run in flight.
func (r *Reader) ActiveWithin(window time.Duration, now time.Time) ([]Session, error) {
	sessions, err := r.List()
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-window).UnixMilli()
	active := sessions[:0]
	for _, s := range sessions {
		if s.UpdatedAt >= cutoff {
			active = append(active, s)
		}
	}
	return active, nil
}
