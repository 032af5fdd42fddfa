package redis

import (
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("facet cache: %w", redis.Nil)))
	assert.False(t, IsNilError(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsNilError(nil))
}
