package liveness

import (
	"encoding/json"
	"io"
	"os"
	"strings"
)

// Fixed sentinels for the task-excerpt extractor. The UI shows these
// verbatim, so they are part of the contract.
const (
	ExcerptNoActivity = "No activity"
	ExcerptUnknown    = "Unknown task"
	ExcerptProcessing = "Processing..."
)

const (
	excerptMaxLen      = 100
	excerptTailEntries = 10
	excerptTailBytes   = 64 * 1024
)

// transcriptEntry is the subset of one transcript JSONL event we inspect.
// Some runtimes nest role/content under "message", others put them at the
// top level; both shapes are accepted.
type transcriptEntry struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

func (e *transcriptEntry) role() string {
	if e.Message != nil && e.Message.Role != "" {
		return e.Message.Role
	}
	if e.Role != "" {
		return e.Role
	}
	return e.Type
}

func (e *transcriptEntry) content() json.RawMessage {
	if e.Message != nil && len(e.Message.Content) > 0 {
		return e.Message.Content
	}
	return e.Content
}

// contentBlock is one element of an array-shaped message content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// TaskExcerpt derives a short human summary of what a session was last
// doing, from the tail of its transcript. Best-effort: individual
// unparseable lines are skipped, and total failure yields a fixed sentinel.
func (c *Classifier) TaskExcerpt(sessionID string) string {
	if sessionID == "" {
		return ExcerptNoActivity
	}

	lines := readTailLines(c.TranscriptPath(sessionID), excerptTailBytes)
	if len(lines) == 0 {
		return ExcerptNoActivity
	}
	if len(lines) > excerptTailEntries {
		lines = lines[len(lines)-excerptTailEntries:]
	}

	parsedAny := false
	var toolNames []string

	// Newest entries first: the latest user message wins, then recent tools.
	for i := len(lines) - 1; i >= 0; i-- {
		var entry transcriptEntry
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		parsedAny = true

		text, tools := summarizeContent(entry.content())
		if entry.role() == "user" && text != "" {
			return truncate(text, excerptMaxLen)
		}
		if len(toolNames) == 0 && len(tools) > 0 {
			toolNames = tools
		}
	}

	if len(toolNames) > 0 {
		return truncate("Running tools: "+strings.Join(toolNames, ", "), excerptMaxLen)
	}
	if parsedAny {
		return ExcerptProcessing
	}
	return ExcerptUnknown
}

// summarizeContent extracts plain text and tool names from a message
// content value, which is either a bare string or an array of typed blocks.
func summarizeContent(raw json.RawMessage) (text string, tools []string) {
	if len(raw) == 0 {
		return "", nil
	}

	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		return strings.TrimSpace(plain), nil
	}

	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return "", nil
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			if b.Name != "" {
				tools = append(tools, b.Name)
			}
		}
	}
	return strings.Join(parts, " "), tools
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// readTailLines returns the last complete lines within maxBytes of the end
// of the file. Any I/O error yields nil.
func readTailLines(path string, maxBytes int64) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}

	offset := int64(0)
	if info.Size() > maxBytes {
		offset = info.Size() - maxBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil
	}

	raw := strings.Split(string(data), "\n")
	if offset > 0 && len(raw) > 0 {
		// The first line is likely cut mid-entry; drop it.
		raw = raw[1:]
	}

	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
