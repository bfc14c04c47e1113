package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseHandlesPartialInitialization(t *testing.T) {
	// Close must be safe when initialization failed partway through.
	deps := &Dependencies{}
	assert.NoError(t, deps.Close())
}
