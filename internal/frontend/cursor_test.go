package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFetch(t *testing.T) {
	for _, tt := range []struct {
		name string
		text string
		want Fetch
	}{
		{
			name: "generated",
			text: "SELECT fetchQueryVar0 FROM (SELECT v FROM t) fetchQueryTmpTable(fetchQueryVar0) WHERE cursorloopiter::BOOL",
			want: Fetch{Column: 0, Columns: []string{"fetchQueryVar0"}, Query: "SELECT v FROM t"},
		},
		{
			name: "renamed with nested parentheses",
			text: "SELECT fetchQueryVar1 FROM (SELECT a, b FROM t WHERE (a > x_0_)) fetchQueryTmpTable(fetchQueryVar0, fetchQueryVar1) WHERE cursorloopiter_2_::BOOL",
			want: Fetch{Column: 1, Columns: []string{"fetchQueryVar0", "fetchQueryVar1"}, Query: "SELECT a, b FROM t WHERE (a > x_0_)"},
		},
		{
			name: "cast",
			text: "(SELECT fetchQueryVar0 FROM (SELECT v FROM t) fetchQueryTmpTable(fetchQueryVar0) WHERE cursorloopiter::BOOL)::INTEGER",
			want: Fetch{Column: 0, Columns: []string{"fetchQueryVar0"}, Query: "SELECT v FROM t"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFetch(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, text := range []string{
		"SELECT max(v) FROM t",
		"SELECT fetchQueryVar3 FROM (SELECT v FROM t) fetchQueryTmpTable(fetchQueryVar0) WHERE cursorloopiter::BOOL",
		"total + 1",
	} {
		_, ok := ParseFetch(text)
		assert.False(t, ok, text)
	}
}

func TestProbeQuery(t *testing.T) {
	q, ok := ProbeQuery("select ANY_VALUE(cursorloopiter_1_) < count(*) from tmp, /*fetchQueryStart*/SELECT v FROM t WHERE v > x_0_/*fetchQueryEnd*/ cursorloopEmptyTmp")
	require.True(t, ok)
	assert.Equal(t, "SELECT v FROM t WHERE v > x_0_", q)

	_, ok = ProbeQuery("i < x")
	assert.False(t, ok)
}

func TestIsCounter(t *testing.T) {
	assert.True(t, IsCounter("cursorloopiter"))
	assert.True(t, IsCounter("cursorloopiter_3_"))
	assert.False(t, IsCounter("cursor"))
}
