package formatparser

import "strings"

const (
	textWindowSize    = 15000
	textWindowOverlap = 500
	// Window ends prefer a sentence boundary found within this many chars of
	// the hard cut.
	boundaryLookback = 200
)

// ChunkText splits plain text or markdown into overlapping windows; the
// workflow driver uses it directly for crawled web content.
func ChunkText(text string) []Chunk { return chunkText(text) }

// chunkText splits plain text or markdown into overlapping windows. Each
// window is at most textWindowSize chars; the next window restarts
// textWindowOverlap chars before the previous cut. Cuts prefer a sentence
// boundary in the last boundaryLookback chars of the window.
func chunkText(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + textWindowSize
		if end >= len(text) {
			chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: text[start:]})
			break
		}

		end = runeFloor(text, end)
		cut := end
		if b := lastSentenceBoundary(text[start:end]); b > 0 && end-(start+b) <= boundaryLookback {
			cut = start + b
		}

		chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: text[start:cut]})

		next := runeFloor(text, cut-textWindowOverlap)
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// runeFloor moves i back to the nearest UTF-8 rune start.
func runeFloor(text string, i int) int {
	for i > 0 && i < len(text) && text[i]&0xC0 == 0x80 {
		i--
	}
	return i
}

// lastSentenceBoundary returns the index just after the final sentence
// terminator in window, or 0 when none exists.
func lastSentenceBoundary(window string) int {
	best := 0
	for i := 0; i < len(window); i++ {
		switch window[i] {
		case '.', '!', '?':
			// Terminator counts when followed by whitespace or end-of-window.
			if i+1 >= len(window) || window[i+1] == ' ' || window[i+1] == '\n' || window[i+1] == '\t' {
				best = i + 1
			}
		case '\n':
			if i+1 < len(window) && window[i+1] == '\n' {
				best = i + 1
			}
		}
	}
	return best
}
