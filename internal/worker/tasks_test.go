package worker

import (
	"testing"

	"loyalty-service/internal/services"

	"github.com/stretchr/testify/assert"
)

// The enqueue side of these tasks lives in internal/services with its
// own copies of the type strings; a drift here would silently route
// tasks to no handler.
func TestTaskTypesMatchProducers(t *testing.T) {
	assert.Equal(t, services.TypeLoyaltyProcess, TypeLoyaltyProcess)
	assert.Equal(t, services.TypeChannelSync, TypeChannelSync)
}
