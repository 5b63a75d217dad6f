package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullVersion(t *testing.T) {
	version, commit := Version, Commit
	t.Cleanup(func() { Version, Commit = version, commit })

	Version, Commit = "1.2.0", ""
	assert.Equal(t, "1.2.0", FullVersion())
	assert.False(t, IsDev())

	Commit = "abc1234"
	assert.Equal(t, "1.2.0 (abc1234)", FullVersion())
	assert.Contains(t, BuildInfo(), "davi-nfc-bridge 1.2.0 (abc1234)")
	assert.NotContains(t, BuildInfo(), "development build")
}

func TestBuildInfoDev(t *testing.T) {
	version := Version
	t.Cleanup(func() { Version = version })

	Version = "dev"
	assert.True(t, IsDev())
	assert.Contains(t, BuildInfo(), "(development build)")
}
