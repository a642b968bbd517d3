package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	ref := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime("2024-10-10T10:10:10Z")
	require.True(t, ok)
	assert.True(t, got.Equal(ref))

	got, ok = ParseTime("2024-10-10T10:10:10.25Z")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, got.Sub(ref))

	got, ok = ParseTime(strconv.FormatInt(ref.Unix(), 10))
	require.True(t, ok)
	assert.Equal(t, ref.Unix(), got.Unix())

	got, ok = ParseTime(strconv.FormatInt(ref.UnixMilli()+5, 10))
	require.True(t, ok)
	assert.Equal(t, ref.UnixMilli()+5, got.UnixMilli())

	for _, bad := range []string{"", "yesterday", "-5", "0"} {
		_, ok := ParseTime(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
}
