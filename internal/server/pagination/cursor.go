// Package pagination encodes keyset cursors over (timestamp, id) pairs.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const separator = "|"

// EncodeCursor returns an opaque, URL-safe cursor positioned after the row
// with the given timestamp and id.
func EncodeCursor(ts time.Time, id int64) string {
	key := ts.UTC().Format(time.RFC3339Nano) + separator + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (time.Time, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	tsPart, idPart, ok := strings.Cut(string(raw), separator)
	if !ok {
		return time.Time{}, 0, errors.New("invalid cursor format")
	}

	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 0 {
		return time.Time{}, 0, fmt.Errorf("invalid id in cursor: %q", idPart)
	}
	return ts.UTC(), id, nil
}
