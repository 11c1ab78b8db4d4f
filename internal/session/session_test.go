package session

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	s := New(nil)
	assert.Equal(t, 0, s.Next("f_outlined"))
	assert.Equal(t, 1, s.Next("f_outlined"))
	assert.Equal(t, 0, s.Next("g_outlined"))
}

func TestEmitDeduplicates(t *testing.T) {
	s := New(nil)
	a := Artifact{Kind: OutlinedFunction, Name: "f_outlined0", Code: "CREATE FUNCTION ..."}
	assert.True(t, s.Emit(a))
	assert.False(t, s.Emit(a))
	b := a
	b.Code = "CREATE FUNCTION other"
	assert.True(t, s.Emit(b))
	require.Len(t, s.Artifacts(), 2)
	assert.Equal(t, "CREATE FUNCTION other", s.Artifacts()[1].Code)
}

func TestDeclineLogs(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	s := New(nil, WithLogger(l), WithID(id))
	s.Decline("aggify", "f", errors.New("loop returns early"))

	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, "aggify: f: loop returns early", s.Diagnostics()[0].String())
	assert.Contains(t, buf.String(), "level=warning")
	assert.Contains(t, buf.String(), "session=00000000-0000-0000-0000-000000000001")
	assert.Contains(t, buf.String(), "pass=aggify")
}

func TestContext(t *testing.T) {
	s := New(nil)
	ctx := NewContext(context.Background(), s)
	assert.Same(t, s, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()).Config)
}
