package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryCache_CheckAndMark(t *testing.T) {
	c := newDeliveryCache()

	key := deliveryKey("echo", 1)
	assert.False(t, c.checkAndMark(key), "first delivery is not a duplicate")
	assert.True(t, c.checkAndMark(key), "replay within the TTL is a duplicate")

	assert.False(t, c.checkAndMark(deliveryKey("echo", 2)), "distinct message id")
	assert.False(t, c.checkAndMark(deliveryKey("other", 1)), "distinct worker")
}
