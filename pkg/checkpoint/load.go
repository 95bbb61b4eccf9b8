package checkpoint

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zecwire/zecd/pkg/chain"
)

func parseHashHex(s string) (chain.Hash, error) {
	var h chain.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// LoadListFromFile reads a checkpoint list from path, one "height,hash"
// pair per line (hash hex-encoded, 64 characters). Blank lines and lines
// starting with '#' are ignored.
func LoadListFromFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadList(f)
}

// LoadList reads a checkpoint list from r in the same format as
// LoadListFromFile.
func LoadList(r io.Reader) (*List, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		parts := strings.SplitN(text, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("checkpoint: line %d: expected \"height,hash\", got %q", line, text)
		}

		height, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: line %d: invalid height: %w", line, err)
		}

		hash, err := parseHashHex(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: line %d: %w", line, err)
		}

		entries = append(entries, Entry{Height: chain.Height(height), Hash: hash})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: reading list: %w", err)
	}

	return NewListFromEntries(entries)
}
