package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatroom-client/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL = "http://localhost:8000"
	DefaultRoomId    = 1

	envServerURL = "GOCHAT_SERVER_URL"
	envDataDir   = "GOCHAT_DATA_DIR"
	envLogFile   = "GOCHAT_LOG_FILE"
	envDebugAddr = "GOCHAT_DEBUG_ADDR"
	envRoom      = "GOCHAT_ROOM"
)

// Config is the validated client configuration. The server base URL is
// injected here rather than compiled in.
type Config struct {
	ServerURL *url.URL
	DataDir   string
	LogFile   string
	DebugAddr string
	RoomId    types.RoomId
}

// Values holds raw, possibly partial configuration from one source.
type Values struct {
	ServerURL string `yaml:"server_url"`
	DataDir   string `yaml:"data_dir"`
	LogFile   string `yaml:"log_file"`
	DebugAddr string `yaml:"debug_addr"`
	RoomId    int64  `yaml:"room"`
}

func NewConfig(serverURL, dataDir string, roomId int64) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if roomId <= 0 {
		return nil, fmt.Errorf("room id must be positive, got %d", roomId)
	}

	u, err := parseServerURL(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}

	return &Config{
		ServerURL: u,
		DataDir:   dataDir,
		LogFile:   filepath.Join(dataDir, "gochat.log"),
		RoomId:    types.RoomId(roomId),
	}, nil
}

func parseServerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

// WebsocketURL returns the real-time endpoint derived from the server URL.
func (c *Config) WebsocketURL() string {
	u := *c.ServerURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "session")
}

// Build validates merged values into a Config.
func (v Values) Build() (*Config, error) {
	cfg, err := NewConfig(v.ServerURL, v.DataDir, v.RoomId)
	if err != nil {
		return nil, err
	}
	if v.LogFile != "" {
		cfg.LogFile = v.LogFile
	}
	cfg.DebugAddr = v.DebugAddr
	return cfg, nil
}

// Merge returns v with every non-zero field of over applied on top.
func (v Values) Merge(over Values) Values {
	if over.ServerURL != "" {
		v.ServerURL = over.ServerURL
	}
	if over.DataDir != "" {
		v.DataDir = over.DataDir
	}
	if over.LogFile != "" {
		v.LogFile = over.LogFile
	}
	if over.DebugAddr != "" {
		v.DebugAddr = over.DebugAddr
	}
	if over.RoomId != 0 {
		v.RoomId = over.RoomId
	}
	return v
}

func Defaults() Values {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Values{
		ServerURL: DefaultServerURL,
		DataDir:   filepath.Join(dir, "gochat"),
		RoomId:    DefaultRoomId,
	}
}

// LoadFile reads YAML values from path. A missing file yields empty values.
func LoadFile(path string) (Values, error) {
	var v Values
	if path == "" {
		return v, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return v, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return v, nil
}

// LoadEnv reads GOCHAT_* variables, first loading envFile into the process
// environment when it exists. Variables already set are not overridden.
func LoadEnv(envFile string) (Values, error) {
	var v Values
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("load env file: %w", err)
		}
	}

	v.ServerURL = os.Getenv(envServerURL)
	v.DataDir = os.Getenv(envDataDir)
	v.LogFile = os.Getenv(envLogFile)
	v.DebugAddr = os.Getenv(envDebugAddr)
	if room := os.Getenv(envRoom); room != "" {
		n, err := strconv.ParseInt(room, 10, 64)
		if err != nil {
			return v, fmt.Errorf("%s: %w", envRoom, err)
		}
		v.RoomId = n
	}
	return v, nil
}

// DevServerConfig configures the local reference backend.
type DevServerConfig struct {
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewDevServerConfig(serverAddr, base64Secret string, allowedOrigins []string) (*DevServerConfig, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &DevServerConfig{
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
