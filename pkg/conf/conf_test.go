package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quilldav/quill/pkg/logging"
	"github.com/stretchr/testify/assert"
)

func testLogger() logging.Logger {
	return logging.NewConsoleLogger(logging.LevelError)
}

func TestNewIniConfigProvider_CreatesDefault(t *testing.T) {
	asserts := assert.New(t)
	confPath := filepath.Join(t.TempDir(), "conf", "conf.ini")

	cp, err := NewIniConfigProvider(confPath, testLogger())
	asserts.NoError(err)

	// The default file was materialized
	_, statErr := os.Stat(confPath)
	asserts.NoError(statErr)

	asserts.Equal(":5480", cp.System().Listen)
	asserts.Equal("info", cp.System().LogLevel)
	asserts.Equal("/dav", cp.DAV().Prefix)
	asserts.False(cp.DAV().AllowDepthInfinity)
	asserts.Equal(512, cp.RangePolicy().MaxRanges)
	asserts.Equal(2, cp.RangePolicy().MaxOverlaps)
	asserts.Equal(16, cp.RangePolicy().MaxDisorder)
}

func TestNewIniConfigProvider_ReadsFile(t *testing.T) {
	asserts := assert.New(t)
	confPath := filepath.Join(t.TempDir(), "conf.ini")
	content := `[System]
Listen = :8080
LogLevel = debug

[DAV]
Prefix = /files
AllowDepthInfinity = true
Quota = 1048576

[RangePolicy]
MaxRanges = 64
`
	asserts.NoError(os.WriteFile(confPath, []byte(content), 0o644))

	cp, err := NewIniConfigProvider(confPath, testLogger())
	asserts.NoError(err)

	asserts.Equal(":8080", cp.System().Listen)
	asserts.Equal("debug", cp.System().LogLevel)
	asserts.Equal("/files", cp.DAV().Prefix)
	asserts.True(cp.DAV().AllowDepthInfinity)
	asserts.Equal(int64(1048576), cp.DAV().Quota)
	asserts.Equal(64, cp.RangePolicy().MaxRanges)
	// Unset keys keep their defaults
	asserts.Equal(2, cp.RangePolicy().MaxOverlaps)
}

func TestNewIniConfigProvider_EnvOverride(t *testing.T) {
	asserts := assert.New(t)
	confPath := filepath.Join(t.TempDir(), "conf.ini")
	t.Setenv("QL_CONF_System.Listen", ":9999")

	cp, err := NewIniConfigProvider(confPath, testLogger())
	asserts.NoError(err)
	asserts.Equal(":9999", cp.System().Listen)
}

func TestNewIniConfigProvider_Validation(t *testing.T) {
	asserts := assert.New(t)
	confPath := filepath.Join(t.TempDir(), "conf.ini")
	content := `[System]
Listen = :8080
LogLevel = bogus
`
	asserts.NoError(os.WriteFile(confPath, []byte(content), 0o644))

	_, err := NewIniConfigProvider(confPath, testLogger())
	asserts.Error(err)
}
