package warmsuccessor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketPathNamespacedByEntryPointAndRespectsHostDirOverride(t *testing.T) {
	t.Setenv("MNGR_HOST_DIR", "/tmp/mngr-test-root")

	fleet := SocketPath("fleet")
	connect := SocketPath("connect")
	assert.NotEqual(t, fleet, connect)
	assert.Equal(t, filepath.Join("/tmp/mngr-test-root", "warm"), filepath.Dir(fleet))

	again := SocketPath("fleet")
	assert.Equal(t, fleet, again)
}
