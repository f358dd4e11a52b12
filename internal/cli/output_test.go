package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.Emit(map[string]int{"runs": 3}, nil, nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"runs": float64(3)}, resp.Data)
}

func TestOutputFormatter_JSONFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.Emit("data", &CLIError{Code: "E_RUN_FAILED", Message: "scenario x failed"}, nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_RUN_FAILED", resp.Error.Code)
	assert.Equal(t, "scenario x failed", resp.Error.Message)
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	err := f.Emit("ignored", nil, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "All scenarios passed")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "All scenarios passed\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	f := &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}}
	boom := errors.New("boom")
	err := f.Emit(nil, nil, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestExitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"nil", nil, ExitSuccess, ""},
		{"plain", errors.New("x"), ExitFailure, "x"},
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError, "bad path"},
		{"wrapped", WrapExitError(ExitCommandError, "failed to open database", errors.New("locked")), ExitCommandError, "failed to open database: locked"},
		{"nested", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "diverged")), ExitFailure, "outer: diverged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetExitCode(tt.err))
			if tt.err != nil {
				assert.Equal(t, tt.msg, tt.err.Error())
			}
		})
	}
}

func TestWrapExitError_Unwrap(t *testing.T) {
	inner := errors.New("locked")
	err := WrapExitError(ExitCommandError, "failed", inner)
	assert.ErrorIs(t, err, inner)
}
