package version

import (
	"runtime"
	"testing"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get("TShark (Wireshark) 4.2.5.")
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, packet.LayoutVersion, info.LayoutVersion)
	assert.Equal(t, "TShark (Wireshark) 4.2.5.", info.Dissector)
}

func TestGetShortVersion(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "v1.2.0"
	GitCommit = "unknown"
	assert.Equal(t, "v1.2.0", GetShortVersion())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, "v1.2.0-0123456", GetShortVersion())
	assert.Contains(t, GetFullVersion(), "field layout v")
}
