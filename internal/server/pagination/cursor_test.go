package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 28, 15, 0, 0, 123456789, time.FixedZone("CET", 3600))

	got, id, err := DecodeCursor(EncodeCursor(ts, 42))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
	assert.EqualValues(t, 42, id)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	for name, cursor := range map[string]string{
		"not base64":    "%%%",
		"no separator":  enc("2025-03-28T15:00:00Z"),
		"bad timestamp": enc("yesterday|1"),
		"bad id":        enc("2025-03-28T15:00:00Z|one"),
		"negative id":   enc("2025-03-28T15:00:00Z|-1"),
		"empty":         "",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeCursor(cursor)
			assert.Error(t, err)
		})
	}
}
