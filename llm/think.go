package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// stripThink removes any reasoning segments delimited by <think>...</think>
// from a complete (non-streamed) response.
func stripThink(text string) string {
	var out strings.Builder
	remaining := text
	for {
		start := strings.Index(remaining, thinkOpen)
		if start == -1 {
			out.WriteString(remaining)
			break
		}
		out.WriteString(remaining[:start])

		end := strings.Index(remaining[start:], thinkClose)
		if end == -1 {
			// Unterminated tag: drop the rest, it's all scratchpad.
			break
		}
		remaining = remaining[start+end+len(thinkClose):]
	}
	return strings.TrimSpace(out.String())
}

// ThinkFilter strips <think>...</think> segments across a stream of
// chunks, keeping state so a tag split across two chunks is never leaked
// into the visible output.
type ThinkFilter struct {
	insideThink bool
	pending     string // partial tag text that might complete on the next chunk
}

// Feed processes one chunk and returns the visible (non-reasoning) text
// it contributes.
func (f *ThinkFilter) Feed(chunk string) string {
	text := f.pending + chunk
	f.pending = ""

	var out strings.Builder
	for len(text) > 0 {
		if f.insideThink {
			idx := strings.Index(text, thinkClose)
			if idx == -1 {
				// Still inside a think block; hold back a tail long enough
				// to catch a split closing tag on the next chunk.
				if tail := suffixOverlap(text, thinkClose); tail > 0 {
					f.pending = text[len(text)-tail:]
				}
				return out.String()
			}
			text = text[idx+len(thinkClose):]
			f.insideThink = false
			continue
		}

		idx := strings.Index(text, thinkOpen)
		if idx == -1 {
			if tail := suffixOverlap(text, thinkOpen); tail > 0 {
				out.WriteString(text[:len(text)-tail])
				f.pending = text[len(text)-tail:]
				return out.String()
			}
			out.WriteString(text)
			return out.String()
		}
		out.WriteString(text[:idx])
		text = text[idx+len(thinkOpen):]
		f.insideThink = true
	}
	return out.String()
}

// suffixOverlap returns the length of the longest suffix of s that is a
// proper prefix of tag, i.e. how much trailing text might be the start
// of tag split across a chunk boundary.
func suffixOverlap(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
