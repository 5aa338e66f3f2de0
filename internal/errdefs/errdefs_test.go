// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package errdefs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := New(ErrImagePull, "pull", "postgres", fs.ErrPermission)
	wrapped := fmt.Errorf("start: %w", err)

	assert.True(t, errors.Is(wrapped, ErrImagePull))
	assert.True(t, errors.Is(wrapped, fs.ErrPermission))
	assert.False(t, errors.Is(wrapped, ErrExec))
	assert.Equal(t, "postgres", ServiceOf(wrapped))
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind and cause", New(ErrExec, "exec", "redis", errors.New("exit 1")), "exec redis: exec failed: exit 1"},
		{"kind only", New(ErrContainerNotFound, "stop", "redis", nil), "stop redis: container not found"},
		{"no service", New(ErrEngineUnavailable, "detect", "", nil), "detect: container engine unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
