package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalJSON re-encodes a JSON document into a stable byte form: object
// keys sorted recursively, arrays kept in order, numbers in a fixed decimal
// representation. Two semantically equal documents always canonicalize to the
// same bytes.
func CanonicalJSON(doc []byte) ([]byte, error) {
	if len(doc) == 0 {
		return []byte("null"), nil
	}

	dec := json.NewDecoder(strings.NewReader(string(doc)))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decoding params: %w", err)
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, value); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, value any) error {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(encoded)
	case json.Number:
		sb.WriteString(canonicalNumber(v))
	case []any:
		sb.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(encoded)
			sb.WriteByte(':')
			if err := writeCanonical(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unsupported JSON value type %T", value)
	}
	return nil
}

// canonicalNumber renders integers without a fraction and everything else with
// a fixed six-decimal representation, so 1, 1.0 and 1.000000 all collapse to
// the same bytes.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return n.String()
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// DedupeKey fingerprints a job for idempotent enqueue: SHA-256 over the job
// type, the canonical params encoding and the parent id.
func DedupeKey(jobType JobType, params []byte, parentID ULID) (string, error) {
	canonical, err := CanonicalJSON(params)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(jobType))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	if !parentID.IsZero() {
		h.Write([]byte(parentID.String()))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
