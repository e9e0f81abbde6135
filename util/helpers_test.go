package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxListenerBacklogIsPositiveAndCapped(t *testing.T) {
	n := MaxListenerBacklog()
	assert.Greater(t, n, 0)
	assert.LessOrEqual(t, n, 1<<16-1)
}
