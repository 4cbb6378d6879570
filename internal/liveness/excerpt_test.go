package liveness

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, c *Classifier, sessionID string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(c.TranscriptPath(sessionID), []byte(content), 0644))
}

func TestTaskExcerptLatestUserMessage(t *testing.T) {
	c := newTestClassifier(t)
	writeTranscript(t, c, "s1",
		`{"type":"user","message":{"role":"user","content":"first question"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"answer"}]}}`,
		`{"type":"user","message":{"role":"user","content":"latest question about deploys"}}`,
	)

	assert.Equal(t, "latest question about deploys", c.TaskExcerpt("s1"))
}

func TestTaskExcerptUserContentBlocks(t *testing.T) {
	c := newTestClassifier(t)
	writeTranscript(t, c, "s1",
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"check the logs"}]}}`,
	)

	assert.Equal(t, "check the logs", c.TaskExcerpt("s1"))
}

func TestTaskExcerptTruncatesLongMessage(t *testing.T) {
	c := newTestClassifier(t)
	long := strings.Repeat("a", 250)
	writeTranscript(t, c, "s1",
		`{"type":"user","message":{"role":"user","content":"`+long+`"}}`,
	)

	got := c.TaskExcerpt("s1")
	assert.Len(t, got, 103) // 100 chars + "..."
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTaskExcerptFallsBackToToolNames(t *testing.T) {
	c := newTestClassifier(t)
	writeTranscript(t, c, "s1",
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read"},{"type":"tool_use","name":"Bash"}]}}`,
	)

	assert.Equal(t, "Running tools: Read, Bash", c.TaskExcerpt("s1"))
}

func TestTaskExcerptSkipsMalformedLines(t *testing.T) {
	c := newTestClassifier(t)
	writeTranscript(t, c, "s1",
		`{"type":"user","message":{"role":"user","content":"the real task"}}`,
		`{truncated garbage`,
		`not json at all`,
	)

	assert.Equal(t, "the real task", c.TaskExcerpt("s1"))
}

func TestTaskExcerptSentinels(t *testing.T) {
	c := newTestClassifier(t)

	// Missing transcript
	assert.Equal(t, ExcerptNoActivity, c.TaskExcerpt("missing"))

	// Empty session id
	assert.Equal(t, ExcerptNoActivity, c.TaskExcerpt(""))

	// Nothing parseable
	writeTranscript(t, c, "garbage", `{nope`, `also nope`)
	assert.Equal(t, ExcerptUnknown, c.TaskExcerpt("garbage"))

	// Parseable entries but no user text and no tools
	writeTranscript(t, c, "busy",
		`{"type":"system","subtype":"init"}`,
		`{"type":"result","is_error":false}`,
	)
	assert.Equal(t, ExcerptProcessing, c.TaskExcerpt("busy"))
}

func TestTaskExcerptOnlyConsidersRecentEntries(t *testing.T) {
	c := newTestClassifier(t)

	lines := []string{`{"type":"user","message":{"role":"user","content":"ancient task"}}`}
	for i := 0; i < 15; i++ {
		lines = append(lines, `{"type":"system","subtype":"tick"}`)
	}
	writeTranscript(t, c, "s1", lines...)

	// The user message fell outside the last 10 entries.
	assert.Equal(t, ExcerptProcessing, c.TaskExcerpt("s1"))
}
