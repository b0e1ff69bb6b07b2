package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("%{target} failed in %{file}", map[string]string{"target": "all", "file": "local.c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "all failed in local.c", out)
}

func TestRenderContextWins(t *testing.T) {
	out, err := Render("%{file}:%{line}",
		map[string]string{"file": "local.c", "line": "7"},
		map[string]string{"file": "ctx.c"},
	)
	require.NoError(t, err)
	assert.Equal(t, "ctx.c:7", out)
}

func TestRenderEmptyValueIsPresent(t *testing.T) {
	out, err := Render("[%{opt}]", map[string]string{"opt": ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderMissingKey(t *testing.T) {
	out, err := Render("%{a} %{b} %{c}", map[string]string{"a": "1"}, nil)
	assert.Equal(t, Fallback, out)

	var missing *MissingKeyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "b", missing.Key)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestRenderLeavesOtherTextAlone(t *testing.T) {
	out, err := Render("100% done, {x} and %{ y }", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "100% done, {x} and %{ y }", out)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "a"}, Placeholders("%{a}-%{b}-%{a}"))
	assert.Nil(t, Placeholders("plain"))
}
