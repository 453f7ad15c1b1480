package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForStatus(t *testing.T) {
	assert.Equal(t, Running, ForStatus("running"))
	assert.Equal(t, Completed, ForStatus("completed"))
	assert.Equal(t, Failed, ForStatus("failed"))
	assert.Equal(t, Paused, ForStatus("paused"))

	// Unknown statuses must still render something
	assert.Equal(t, Queued, ForStatus("garbage"))
}
