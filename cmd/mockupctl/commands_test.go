package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetRef(t *testing.T) {
	ref, err := target{ID: 7}.ref()
	require.NoError(t, err)
	assert.True(t, ref.IsCommitted())
	assert.Equal(t, uint(7), ref.ID())

	ref, err = target{Ref: "tmp-abc"}.ref()
	require.NoError(t, err)
	assert.True(t, ref.IsPending())
	assert.Equal(t, "tmp-abc", ref.TempID())

	_, err = target{}.ref()
	assert.Error(t, err)
	_, err = target{ID: 1, Ref: "tmp-abc"}.ref()
	assert.Error(t, err)
}

func TestTokenPrefersFlag(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	opts = Options{Token: "explicit"}
	assert.Equal(t, "explicit", token())

	opts = Options{}
	assert.Equal(t, "", token())
}
