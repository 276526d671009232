package ingestion

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/manifesto-rag/internal/rag"
)

// maxLineBytes bounds a single JSON Lines record.
const maxLineBytes = 16 << 20

// LoadFile reads chunks from a JSON array or JSON Lines file. Chunks without
// a party name take the one inferred from the file name, and chunks without
// an id get one derived from the file name, so ids do not depend on which
// other files are ingested alongside it.
func LoadFile(path string) ([]rag.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	chunks, err := LoadChunks(f)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load %s: %w", path, err)
	}

	inferred := InferMetadata(path)
	if inferred.PartyName != "" {
		for i := range chunks {
			if chunks[i].PartyName == "" {
				chunks[i].PartyName = inferred.PartyName
			}
		}
	}
	assignIDs(chunks, filepath.Base(path))
	return chunks, nil
}

// LoadChunks decodes chunks from r. Input starting with '[' is decoded as a
// JSON array; anything else as JSON Lines, one chunk per non-blank line.
func LoadChunks(r io.Reader) ([]rag.Chunk, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	if first == '[' {
		var chunks []rag.Chunk
		if err := json.NewDecoder(br).Decode(&chunks); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		return chunks, nil
	}

	var chunks []rag.Chunk
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c rag.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan line %d: %w", line+1, err)
	}
	return chunks, nil
}

// peekNonSpace skips leading whitespace and returns the next byte without
// consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// Normalize trims chunk content, drops chunks whose content is empty and
// assigns a deterministic id to chunks that have none. It returns the kept
// chunks and the number dropped.
func Normalize(chunks []rag.Chunk) ([]rag.Chunk, int) {
	kept := make([]rag.Chunk, 0, len(chunks))
	dropped := 0
	for _, c := range chunks {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			dropped++
			continue
		}
		c.ID = strings.TrimSpace(c.ID)
		kept = append(kept, c)
	}
	assignIDs(kept, "")
	return kept, dropped
}

// assignIDs gives every chunk with a blank id and non-blank content an id
// derived from source, party, page and the chunk's ordinal among the chunks
// of that party and page. Blank chunks do not advance the ordinal.
func assignIDs(chunks []rag.Chunk, source string) {
	type pageKey struct {
		party string
		page  int
	}
	ordinals := make(map[pageKey]int)
	for i := range chunks {
		c := &chunks[i]
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		k := pageKey{c.PartyName, c.PageNumber}
		ordinal := ordinals[k]
		ordinals[k]++
		if strings.TrimSpace(c.ID) == "" {
			c.ID = ChunkID(source, c.PartyName, c.PageNumber, ordinal)
		}
	}
}

// ChunkID generates a deterministic id for a chunk from its source file,
// party, page and ordinal within that page.
func ChunkID(source, party string, page, ordinal int) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s#%s#%d#%d", source, party, page, ordinal))
	return hex.EncodeToString(h[:16])
}

// ContentHash returns the hex sha256 of content, as recorded in the
// ingestion manifest.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
