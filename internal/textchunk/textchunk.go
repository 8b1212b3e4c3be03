// Package textchunk splits long text into size-bounded pieces for
// destinations that cap message length.
package textchunk

// Split cuts text into consecutive chunks of at most limit runes. The chunks
// concatenate back to text. Empty text yields no chunks; a non-positive
// limit yields text unchanged as a single chunk.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var chunks []string
	start, count := 0, 0
	for i := range text {
		if count == limit {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}
