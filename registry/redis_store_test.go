package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisStore_ClosesWithoutDialing(t *testing.T) {
	// go-redis dials lazily, so constructing and closing a store against an
	// address nothing is listening on must not block or panic.
	s := NewRedisStore("127.0.0.1:1", 0)
	assert.NoError(t, s.Close())
}
