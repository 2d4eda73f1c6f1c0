package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/npezzotti/go-chatroom-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	var (
		serverURL = "http://localhost:8080"
		dataDir   = "/tmp/gochat"
	)

	tcases := []struct {
		name      string
		serverURL string
		dataDir   string
		room      int64
		err       bool
	}{
		{
			name:      "valid config",
			serverURL: serverURL,
			dataDir:   dataDir,
			room:      1,
			err:       false,
		},
		{
			name:      "empty server URL",
			serverURL: "",
			dataDir:   dataDir,
			room:      1,
			err:       true,
		},
		{
			name:      "unsupported scheme",
			serverURL: "ftp://localhost",
			dataDir:   dataDir,
			room:      1,
			err:       true,
		},
		{
			name:      "missing host",
			serverURL: "http://",
			dataDir:   dataDir,
			room:      1,
			err:       true,
		},
		{
			name:      "empty data dir",
			serverURL: serverURL,
			dataDir:   "",
			room:      1,
			err:       true,
		},
		{
			name:      "non-positive room",
			serverURL: serverURL,
			dataDir:   dataDir,
			room:      0,
			err:       true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.serverURL, tc.dataDir, tc.room)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.serverURL, config.ServerURL.String(), "expected server URL to match")
			assert.Equal(t, tc.dataDir, config.DataDir, "expected data dir to match")
			assert.Equal(t, types.RoomId(tc.room), config.RoomId, "expected room to match")
			assert.Equal(t, filepath.Join(tc.dataDir, "gochat.log"), config.LogFile)
		})
	}
}

func TestConfig_WebsocketURL(t *testing.T) {
	tcases := []struct {
		serverURL string
		expected  string
	}{
		{serverURL: "http://localhost:8000", expected: "ws://localhost:8000/ws"},
		{serverURL: "https://chat.example.com/", expected: "wss://chat.example.com/ws"},
		{serverURL: "https://chat.example.com/api", expected: "wss://chat.example.com/api/ws"},
	}

	for _, tc := range tcases {
		t.Run(tc.serverURL, func(t *testing.T) {
			cfg, err := NewConfig(tc.serverURL, "/tmp", 1)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.WebsocketURL())
		})
	}
}

func TestValues_Merge(t *testing.T) {
	base := Values{ServerURL: "http://a", DataDir: "/a", RoomId: 1}
	over := Values{ServerURL: "http://b", RoomId: 4, DebugAddr: ":6060"}

	merged := base.Merge(over)

	assert.Equal(t, "http://b", merged.ServerURL)
	assert.Equal(t, "/a", merged.DataDir, "zero fields must not override")
	assert.Equal(t, int64(4), merged.RoomId)
	assert.Equal(t, ":6060", merged.DebugAddr)
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		v, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.NoError(t, err)
		assert.Equal(t, Values{}, v)
	})
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gochat.yaml")
		content := "server_url: http://chat.local:9000\nroom: 3\nlog_file: /tmp/x.log\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		v, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "http://chat.local:9000", v.ServerURL)
		assert.Equal(t, int64(3), v.RoomId)
		assert.Equal(t, "/tmp/x.log", v.LogFile)
	})
	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gochat.yaml")
		require.NoError(t, os.WriteFile(path, []byte("room: [1, 2"), 0o600))

		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(envServerURL, "http://env:1")
	t.Setenv(envRoom, "7")
	t.Setenv(envDataDir, "")

	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("GOCHAT_SERVER_URL=http://dotenv:2\nGOCHAT_DATA_DIR=/from/dotenv\n"), 0o600))

	v, err := LoadEnv(dotenv)
	require.NoError(t, err)

	assert.Equal(t, "http://env:1", v.ServerURL, "process env wins over .env")
	assert.Equal(t, int64(7), v.RoomId)

	t.Run("invalid room", func(t *testing.T) {
		t.Setenv(envRoom, "lobby")
		_, err := LoadEnv("")
		assert.Error(t, err)
	})
}

func TestNewDevServerConfig(t *testing.T) {
	cfg, err := NewDevServerConfig("localhost:8000", "c29tZV9zZWNyZXQ=", []string{"http://localhost:3000"})
	require.NoError(t, err)
	assert.Equal(t, []byte("some_secret"), cfg.SigningKey)

	_, err = NewDevServerConfig("", "c29tZV9zZWNyZXQ=", nil)
	assert.Error(t, err)

	_, err = NewDevServerConfig("localhost:8000", "", nil)
	assert.Error(t, err)
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
