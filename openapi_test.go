package vmconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSwagger(t *testing.T) {
	spec, err := GetSwagger()
	require.NoError(t, err)

	for _, path := range []string{
		"/health",
		"/validate",
		"/vms",
		"/vms/{id}",
		"/vms/{id}/config",
		"/vms/{id}/logs",
		"/vms/{id}/devices/{device}",
		"/vms/{id}/resize",
		"/vms/{id}/resize-zone",
	} {
		assert.NotNil(t, spec.Paths.Find(path), path)
	}
}
