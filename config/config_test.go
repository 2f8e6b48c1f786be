package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
}

func TestLoadFile_EmptyPath(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
port: 4000
heartbeat_interval: 5s
log_format: json
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, DefaultHost, cfg.Host, "unset keys keep defaults")
	assert.Equal(t, DefaultWriteWait, cfg.WriteWait)
}

func TestLoadFile_EmptyFile(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = LoadFile(writeFile(t, "unknown.yaml", "prot: 4000\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadFile(writeFile(t, "bad.yaml", "port: [1, 2\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"write wait", func(c *Config) { c.WriteWait = -time.Second }},
		{"max message", func(c *Config) { c.MaxMessageSize = 0 }},
		{"send buffer", func(c *Config) { c.SendBuffer = 0 }},
		{"shutdown", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	require.NoError(t, cfg.ConfigureLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "LOCATIONSYNC_DOTENV_TEST"
	path := writeFile(t, ".env", key+"=from-file\n")
	t.Cleanup(func() { os.Unsetenv(key) })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	const key = "LOCATIONSYNC_DOTENV_KEEP"
	t.Setenv(key, "from-env")
	path := writeFile(t, ".env", key+"=from-file\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv(key))
}

func TestLoadDotEnv_MissingIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestFirstLANAddr(t *testing.T) {
	cidr := func(s string) net.Addr {
		ip, ipnet, err := net.ParseCIDR(s)
		require.NoError(t, err)
		ipnet.IP = ip
		return ipnet
	}

	assert.Equal(t, "192.168.1.10", firstLANAddr([]net.Addr{
		cidr("127.0.0.1/8"),
		cidr("fe80::1/64"),
		cidr("192.168.1.10/24"),
		cidr("10.0.0.5/8"),
	}))
	assert.Equal(t, "127.0.0.1", firstLANAddr([]net.Addr{cidr("127.0.0.1/8")}))
	assert.Equal(t, "127.0.0.1", firstLANAddr(nil))
}

func TestLocalIP(t *testing.T) {
	assert.NotNil(t, net.ParseIP(LocalIP()))
}
