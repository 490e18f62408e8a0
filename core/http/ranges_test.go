package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRange(t *testing.T) {
	tests := []struct {
		name   string
		header string
		total  int64
		spans  []Span
		err    error
	}{
		{"absent", "", 1000, nil, nil},
		{"unparsable unit", "items=0-1", 1000, nil, nil},
		{"unparsable number", "bytes=a-b", 1000, nil, nil},
		{"unparsable empty", "bytes=", 1000, nil, nil},
		{"single", "bytes=0-99", 1000, []Span{{0, 99}}, nil},
		{"open ended", "bytes=900-", 1000, []Span{{900, 999}}, nil},
		{"end clamped", "bytes=900-5000", 1000, []Span{{900, 999}}, nil},
		{"suffix", "bytes=-100", 1000, []Span{{900, 999}}, nil},
		{"suffix clamped", "bytes=-5000", 1000, []Span{{0, 999}}, nil},
		{"suffix equal length", "bytes=-1000", 1000, []Span{{0, 999}}, nil},
		{"start past end", "bytes=2000-3000", 1000, nil, ErrUnsatisfiableRange},
		{"start at length", "bytes=1000-", 1000, nil, ErrUnsatisfiableRange},
		{"start after end", "bytes=50-10", 1000, nil, ErrUnsatisfiableRange},
		{"zero suffix", "bytes=-0", 1000, nil, ErrUnsatisfiableRange},
		{"empty resource", "bytes=0-", 0, nil, ErrUnsatisfiableRange},
		{"multi in order", "bytes=500-599, 0-9,-5", 1000, []Span{{500, 599}, {0, 9}, {995, 999}}, nil},
		{"multi overlapping kept", "bytes=0-9,5-14", 1000, []Span{{0, 9}, {5, 14}}, nil},
		{"multi skips unsatisfiable", "bytes=2000-,0-0", 1000, []Span{{0, 0}}, nil},
		{"multi all unsatisfiable", "bytes=2000-,3000-", 1000, nil, ErrUnsatisfiableRange},
		{"case insensitive unit", "Bytes=1-2", 10, []Span{{1, 2}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ResolveRange(tt.header, tt.total)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.False(t, spec.Partial())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spans, spec.Spans)
			assert.Equal(t, tt.total, spec.Total)
		})
	}
}

func TestSpanInvariant(t *testing.T) {
	for _, h := range []string{"bytes=0-", "bytes=-1", "bytes=3-3", "bytes=0-1,-2,4-"} {
		spec, err := ResolveRange(h, 5)
		require.NoError(t, err, h)
		for _, s := range spec.Spans {
			assert.True(t, s.Start >= 0 && s.Start <= s.End && s.End <= spec.Total-1, "%s: %+v", h, s)
		}
	}
}

func TestIfRangeMatches(t *testing.T) {
	mod := time.Date(2024, 5, 1, 12, 30, 0, 500, time.UTC)
	etag := `"abc"`

	assert.True(t, IfRangeMatches("", etag, mod))
	assert.True(t, IfRangeMatches(`"abc"`, etag, mod))
	assert.False(t, IfRangeMatches(`"xyz"`, etag, mod))
	assert.False(t, IfRangeMatches(`W/"abc"`, etag, mod))
	assert.True(t, IfRangeMatches(mod.Format(TimeFormat), etag, mod))
	assert.False(t, IfRangeMatches(mod.Add(-time.Hour).Format(TimeFormat), etag, mod))
	assert.False(t, IfRangeMatches("garbage", etag, mod))
}
