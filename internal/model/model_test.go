package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hashi/internal/model"
)

func TestValidatePrincipalID(t *testing.T) {
	valid := []string{"console", "telegram:12345", "user@example", "slack/U123", strings.Repeat("a", 255)}
	for _, id := range valid {
		require.NoError(t, model.ValidatePrincipalID(id), "expected valid: %q", id)
	}
	invalid := []string{"", "has space", "semi;colon", strings.Repeat("a", 256)}
	for _, id := range invalid {
		require.Error(t, model.ValidatePrincipalID(id), "expected invalid: %q", id)
	}
}

func TestValidateServerID(t *testing.T) {
	for _, id := range []string{"fs", "github", "my-server_2"} {
		require.NoError(t, model.ValidateServerID(id), "expected valid: %q", id)
	}
	for _, id := range []string{"", "1abc", "a.b", "a b", strings.Repeat("x", 65)} {
		require.Error(t, model.ValidateServerID(id), "expected invalid: %q", id)
	}
}

func TestOutcomeTags(t *testing.T) {
	assert.Equal(t, "[WARN] API key not set for anthropic", model.Warn("API key not set for %s", "anthropic"))
	assert.Equal(t, "[ERROR] boom", model.Error(errors.New("boom")))
	assert.Equal(t, "[ERROR] unknown error", model.Error(nil))
	assert.True(t, model.HasTag(model.Aborted("stopped"), model.TagAborted))
	assert.False(t, model.HasTag("all good", model.TagError))
}
