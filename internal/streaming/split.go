package streaming

import "strings"

const (
	// discordSoftLimit is where a split is preferred, leaving headroom
	// below Discord's hard per-message cap for the code-fence closer the
	// tracker may need to append.
	discordSoftLimit = 1800
	// discordHardLimit is Discord's actual per-message character cap.
	discordHardLimit = 2000
)

// Segment is one piece of a long message after splitting, carrying enough
// state for the tracker to keep code fences balanced across segment
// boundaries.
type Segment struct {
	Text         string
	ReopenedWith string // fence marker prefixed at the start of this segment, "" if none
	LeavesOpen   string // fence marker still open when this segment ends, "" if none
}

// SplitTracker incrementally splits a growing message into Discord-sized
// segments without ever breaking a fenced code block across a split: if a
// split would land inside a fence, the tracker closes the fence at the end
// of the current segment and reopens it (with the same language tag) at the
// start of the next.
type SplitTracker struct {
	softLimit int
	hardLimit int

	openFence string // fence marker open going into the next chunk of original content, "" if none
}

// NewSplitTracker creates a tracker using Discord's soft/hard limits.
func NewSplitTracker() *SplitTracker {
	return &SplitTracker{softLimit: discordSoftLimit, hardLimit: discordHardLimit}
}

// Split divides content into segments no longer than the hard limit,
// preferring to break at the soft limit on a line boundary. A split that
// lands inside a fenced code block closes the fence at the end of that
// segment and reopens it at the start of the next.
func (t *SplitTracker) Split(content string) []Segment {
	var segments []Segment
	remaining := content

	for {
		reopen := t.openFence
		reserve := 0
		if reopen != "" {
			reserve = len(reopen) + 1 // room for "reopen\n" prefix
		}
		closer := 0
		if reopen != "" || strings.Contains(remaining, "```") {
			closer = len("\n```") // room for a synthetic fence closer
		}
		soft := maxInt(1, t.softLimit-reserve)
		hard := maxInt(1, t.hardLimit-reserve-closer)

		if len(remaining) <= hard {
			t.updateFenceState(remaining)
			segments = append(segments, t.buildSegment(reopen, remaining, t.openFence))
			break
		}

		cut := t.findCut(remaining, soft, hard)
		chunk := remaining[:cut]
		t.updateFenceState(chunk)
		segments = append(segments, t.buildSegment(reopen, chunk, t.openFence))
		remaining = remaining[cut:]
	}

	return segments
}

// buildSegment renders the display text for one chunk of original content,
// prefixing a reopened fence marker and/or appending a synthetic closing
// fence as needed. leavesOpen is the fence state after chunk (computed by
// the caller via updateFenceState); neither addition is rescanned as part
// of fence-state tracking.
func (t *SplitTracker) buildSegment(reopen, chunk, leavesOpen string) Segment {
	text := chunk
	if reopen != "" {
		text = reopen + "\n" + text
	}
	if leavesOpen != "" {
		text = strings.TrimRight(text, "\n") + "\n```"
	}

	return Segment{Text: text, ReopenedWith: reopen, LeavesOpen: leavesOpen}
}

// findCut picks a split point at or before soft, preferring the last
// newline so segments break on line boundaries; falls back to hard if no
// newline appears within soft.
func (t *SplitTracker) findCut(s string, soft, hard int) int {
	limit := soft
	if limit > len(s) {
		limit = len(s)
	}

	if idx := strings.LastIndexByte(s[:limit], '\n'); idx > 0 {
		return idx + 1
	}

	if hard < len(s) {
		return hard
	}
	return len(s)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// updateFenceState scans chunk (original content only, never the synthetic
// reopen prefix or closer) for ``` fence markers and updates t.openFence to
// reflect whether a fence is open going into the next chunk.
func (t *SplitTracker) updateFenceState(chunk string) {
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		if t.openFence == "" {
			t.openFence = "```" + strings.TrimPrefix(trimmed, "```")
		} else {
			t.openFence = ""
		}
	}
}
