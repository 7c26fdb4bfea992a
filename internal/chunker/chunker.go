// Package chunker splits page text into bounded, overlapping chunks.
//
// Text is split on the highest-priority separator it contains. Pieces that
// are still too long are split again with the next separator, and adjacent
// short pieces are merged back up to the chunk size with overlap.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, rune.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive separator-priority text splitter.
// Sizes are measured in runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New creates a Splitter producing chunks of at most size runes, each
// sharing up to overlap runes of trailing context with its predecessor.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap > size {
		return nil, fmt.Errorf("chunk overlap %d larger than chunk size %d", overlap, size)
	}
	return &Splitter{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
	}, nil
}

// Split returns the chunks of text in original order.
// Whitespace-only text yields no chunks.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var chunks, short []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if length(piece) < s.size {
			short = append(short, piece)
			continue
		}
		if len(short) > 0 {
			chunks = append(chunks, s.merge(short)...)
			short = nil
		}
		if len(next) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, next)...)
		}
	}
	if len(short) > 0 {
		chunks = append(chunks, s.merge(short)...)
	}
	return chunks
}

// merge concatenates pieces into chunks of at most size runes. When a chunk
// is emitted, pieces are dropped from its front until what remains fits in
// the overlap and leaves room for the next piece.
func (s *Splitter) merge(pieces []string) []string {
	var chunks, current []string
	total := 0

	for _, piece := range pieces {
		n := length(piece)
		if total+n > s.size && len(current) > 0 {
			if chunk, ok := join(current); ok {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= length(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if chunk, ok := join(current); ok {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it. Empty pieces are dropped. An empty
// sep splits text into runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, part := range parts[1:] {
		pieces = append(pieces, sep+part)
	}
	return pieces
}

func join(pieces []string) (string, bool) {
	text := strings.TrimSpace(strings.Join(pieces, ""))
	return text, text != ""
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
