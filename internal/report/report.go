// Package report turns per-category change reports into ordered message
// chunks for a length-constrained delivery channel.
package report

import (
	"strings"
	"unicode/utf8"

	"github.com/hollis-dev/vigil/internal/diff"
)

// DefaultChunkLimit matches the common chat-webhook message cap.
const DefaultChunkLimit = 2000

// Build concatenates non-empty changes into ordered text chunks. The first
// chunk is prefixed with the subject-identifying header. No chunk exceeds
// limit; bodies are split on line boundaries (see SplitText).
//
// Returns nil when there is nothing to report.
func Build(header string, changes []diff.Change, limit int) []string {
	if len(changes) == 0 {
		return nil
	}

	blocks := make([]string, 0, len(changes)+1)
	if header != "" {
		blocks = append(blocks, header)
	}
	for _, ch := range changes {
		block := ch.Headline
		if ch.Body != "" {
			block += "\n" + ch.Body
		}
		blocks = append(blocks, block)
	}

	return SplitText(strings.Join(blocks, "\n\n"), limit)
}

// SplitText splits text into chunks each at most limit bytes, preferring
// line boundaries. A single line longer than the limit is hard-split at
// the limit. Joining the chunks back with newlines (or directly, for
// hard-split pieces) loses no data.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		// Hard-split a line that cannot fit a chunk on its own.
		for len(line) > limit {
			flush()
			cut := runeBoundary(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		need := len(line)
		if current.Len() > 0 {
			need++ // joining newline
		}
		if current.Len()+need > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}

// runeBoundary returns the largest cut point <= limit that does not land
// inside a multi-byte UTF-8 sequence, so a hard split never produces
// invalid UTF-8.
func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit // no boundary within the limit; split raw
	}
	return cut
}
