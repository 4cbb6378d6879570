// Package liveness infers what an agent session is doing right now from
// weak external signals: the registry record, a transcript lock file, and
// the transcript's modification time. The agent runtime is a separate
// process with no shared synchronization, so every classification is a
// best-effort snapshot that can race a concurrent write.
package liveness

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Wadera/clawboard/internal/registry"
)

// State is the three-valued liveness classification.
type State string

const (
	StateRunning   State = "running"
	StateIdle      State = "idle"
	StateCompleted State = "completed"
)

// Thresholds control the classification windows. The defaults track the
// agent runtime's polling cadence; they are configurable rather than derived.
type Thresholds struct {
	// Running: sessions updated more recently than this are running
	Running time.Duration

	// Idle: sessions updated more recently than this (but not Running) are idle
	Idle time.Duration

	// TranscriptWindow: a transcript touched within this window keeps the
	// session at least idle
	TranscriptWindow time.Duration
}

// DefaultThresholds returns the standard classification windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Running:          30 * time.Second,
		Idle:             300 * time.Second,
		TranscriptWindow: 60 * time.Second,
	}
}

// ThresholdsFromSecs builds Thresholds from per-second overrides.
// Zero or negative values keep the default.
func ThresholdsFromSecs(runningSecs, idleSecs, transcriptSecs int) Thresholds {
	th := DefaultThresholds()
	if runningSecs > 0 {
		th.Running = time.Duration(runningSecs) * time.Second
	}
	if idleSecs > 0 {
		th.Idle = time.Duration(idleSecs) * time.Second
	}
	if transcriptSecs > 0 {
		th.TranscriptWindow = time.Duration(transcriptSecs) * time.Second
	}
	return th
}

// Classifier computes liveness states. It holds no state of its own; both
// filesystem probes happen at call time.
type Classifier struct {
	// TranscriptsDir contains <sessionId>.jsonl files and their lock markers
	TranscriptsDir string

	Thresholds Thresholds
}

// NewClassifier creates a classifier over the given transcripts directory.
func NewClassifier(transcriptsDir string, th Thresholds) *Classifier {
	return &Classifier{TranscriptsDir: transcriptsDir, Thresholds: th}
}

// Classify returns the liveness state for one session record at the given
// instant. First matching rule wins:
//
//  1. abortedLastRun forces completed
//  2. lock file present means running
//  3. transcript touched within the window: running if updatedAt is fresh,
//     else idle
//  4. otherwise pure updatedAt age: running, idle, completed
func (c *Classifier) Classify(rec registry.Record, now time.Time) State {
	if rec.AbortedLastRun {
		return StateCompleted
	}

	if c.lockFileExists(rec.SessionID) {
		return StateRunning
	}

	age := now.Sub(time.UnixMilli(rec.UpdatedAt))

	if c.transcriptModifiedWithin(rec.SessionID, c.Thresholds.TranscriptWindow, now) {
		if age < c.Thresholds.Running {
			return StateRunning
		}
		return StateIdle
	}

	if age < c.Thresholds.Running {
		return StateRunning
	}
	if age < c.Thresholds.Idle {
		return StateIdle
	}
	return StateCompleted
}

// TranscriptPath returns the transcript file path for a session id.
func (c *Classifier) TranscriptPath(sessionID string) string {
	return filepath.Join(c.TranscriptsDir, sessionID+".jsonl")
}

// lockFileExists probes for <sessionId>.jsonl.lock. Existence alone is the
// signal; any stat error reads as absent.
func (c *Classifier) lockFileExists(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	_, err := os.Stat(c.TranscriptPath(sessionID) + ".lock")
	return err == nil
}

// transcriptModifiedWithin probes the transcript's mtime. Any stat error
// reads as "not modified".
func (c *Classifier) transcriptModifiedWithin(sessionID string, window time.Duration, now time.Time) bool {
	if sessionID == "" {
		return false
	}
	info, err := os.Stat(c.TranscriptPath(sessionID))
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < window
}
