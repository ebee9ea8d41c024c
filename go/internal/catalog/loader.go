package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcdev12/aln/go/internal/models"
)

var groupSuffix = regexp.MustCompile(`(?i)\s*\(x(\d+)\)`)

// document is the native catalog format.
type document struct {
	Tokens []models.Token `json:"tokens"`
	Groups []struct {
		ID         string `json:"id"`
		Multiplier int    `json:"multiplier"`
	} `json:"groups"`
}

// alnEntry is one entry of a tokens.json file produced by the Notion sync.
type alnEntry struct {
	RFID        string  `json:"SF_RFID"`
	ValueRating flexInt `json:"SF_ValueRating"`
	MemoryType  string  `json:"SF_MemoryType"`
	Group       string  `json:"SF_Group"`
}

// flexInt accepts a JSON number, a numeric string, or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = flexInt(v)
	return nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a catalog. Three layouts are accepted: a bare array of
// tokens, a {"tokens": [...], "groups": [...]} document, and the ALN
// tokens.json map keyed by RFID.
func Parse(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty catalog")
	}

	if trimmed[0] == '[' {
		var tokens []models.Token
		if err := json.Unmarshal(trimmed, &tokens); err != nil {
			return nil, fmt.Errorf("decode token array: %w", err)
		}
		return New(tokens, nil)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if _, ok := probe["tokens"]; ok {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode catalog document: %w", err)
		}
		muls := make(map[string]int, len(doc.Groups))
		for _, g := range doc.Groups {
			muls[g.ID] = g.Multiplier
		}
		return New(doc.Tokens, muls)
	}

	return parseALN(probe)
}

func parseALN(entries map[string]json.RawMessage) (*Catalog, error) {
	tokens := make([]models.Token, 0, len(entries))
	muls := make(map[string]int)

	for key, raw := range entries {
		var e alnEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode token %q: %w", key, err)
		}

		id := e.RFID
		if id == "" {
			id = key
		}

		groupID, mul := ParseGroup(e.Group)
		if groupID != "" && mul > muls[groupID] {
			muls[groupID] = mul
		}

		tokens = append(tokens, models.Token{
			ID:              id,
			MemoryType:      models.MemoryType(strings.TrimSpace(e.MemoryType)),
			Rating:          int(e.ValueRating),
			GroupID:         groupID,
			GroupMultiplier: 1,
		})
	}

	return New(tokens, muls)
}

// ParseGroup splits a group label like "Marriage Dissolution (x2)" into its
// name and completion multiplier. Labels without a suffix have multiplier 1.
func ParseGroup(label string) (string, int) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", 1
	}
	mul := 1
	if m := groupSuffix.FindStringSubmatch(label); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			mul = v
		}
	}
	name := strings.TrimSpace(groupSuffix.ReplaceAllString(label, ""))
	return name, mul
}
