package rag

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ChunkText splits text into contiguous, non-overlapping segments of at most
// maxLen characters, preserving order and content exactly: concatenating the
// result reconstructs the input. Lengths are measured in runes so multi-byte
// text is never split mid-character. Empty input yields no chunks.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 || text == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for i := 0; i < len(runes); i += maxLen {
		end := min(i+maxLen, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// ChunkCSV chunks delimited input cell by cell, concatenating chunks in
// row-then-column order. Chunks never merge across cells, keeping provenance
// clean for citation.
func ChunkCSV(r io.Reader, maxLen int) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may vary in width

	var chunks []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		for _, cell := range record {
			chunks = append(chunks, ChunkText(cell, maxLen)...)
		}
	}
	return chunks, nil
}
