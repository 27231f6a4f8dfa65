package redis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAskKeyScopedByCourse(t *testing.T) {
	key := askKey("course-1", "abc123")
	assert.Equal(t, "ask:course-1:abc123", key)

	// Per-course invalidation scans this prefix; keys from other
	// courses must not match it.
	assert.True(t, strings.HasPrefix(key, "ask:course-1:"))
	assert.False(t, strings.HasPrefix(askKey("course-2", "abc123"), "ask:course-1:"))
}
