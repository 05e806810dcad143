package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cause := errors.New("exec: lpstat not found")

	tests := []struct {
		name  string
		err   error
		class string
		check func(error) bool
	}{
		{"validation", Validation("domain %q is invalid", "a..b"), "validation", IsValidation},
		{"transient", Transient(cause, "spooler unreachable"), "transient", IsTransient},
		{"permanent", Permanent(nil, "set LABELCTL_NGROK_AUTHTOKEN", "missing credential"), "configuration", IsPermanent},
		{"not found", NotFound("printer %s", "zebra"), "not_found", IsNotFound},
		{"wrapped", fmt.Errorf("register: %w", Transient(cause, "device gone")), "transient", IsTransient},
		{"plain", errors.New("boom"), "internal", func(error) bool { return true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.class, Class(tt.err))
		})
	}
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient(cause, "probe failed")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, "probe failed: connection refused", err.Error())
}

func TestHint(t *testing.T) {
	err := fmt.Errorf("start: %w", Permanent(nil, "run 'labelctl tunnel set-domain'", "no domain configured"))
	assert.Equal(t, "run 'labelctl tunnel set-domain'", Hint(err))
	assert.Empty(t, Hint(errors.New("plain")))
	assert.Empty(t, Class(nil))
}
