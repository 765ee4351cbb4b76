// Package config loads the client configuration: config.json next to the
// executable, environment overrides, and generated secrets persisted under
// keys/.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dverbeek/palaver/internal/notify"
	"github.com/dverbeek/palaver/internal/relay"
)

const (
	defaultListenAddr = "127.0.0.1:8180"
	defaultRelayPort  = 3478
	defaultRelayRealm = "palaver"
	defaultDBFile     = "palaver.db"
)

type Config struct {
	// ListenAddr is the loopback address of the local UI API.
	ListenAddr string `json:"listen_addr"`

	// SignalingURL is the websocket endpoint of the signaling server.
	SignalingURL string `json:"signaling_url"`

	AccountID string `json:"account_id"`
	DeviceID  string `json:"device_id,omitempty"`

	DatabasePath string `json:"database_path,omitempty"`

	RelayEnabled bool   `json:"relay_enabled"`
	RelayPort    int    `json:"relay_port,omitempty"`
	RelayRealm   string `json:"relay_realm,omitempty"`

	MuteRing bool `json:"mute_ring"`

	// Secrets live under keys/, never in config.json.
	AuthToken  string            `json:"-"`
	VAPIDKeys  notify.VAPIDKeys  `json:"-"`
	RelayCreds relay.Credentials `json:"-"`
}

// Load reads config.json from baseDir, applies environment overrides, then
// fills in persisted secrets from baseDir/keys. An empty baseDir means the
// directory of the executable.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		baseDir = execDir()
	}

	cfg := &Config{
		ListenAddr: defaultListenAddr,
		RelayPort:  defaultRelayPort,
		RelayRealm: defaultRelayRealm,
	}
	path := filepath.Join(baseDir, "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.ListenAddr = getEnv("PALAVER_LISTEN_ADDR", cfg.ListenAddr)
	cfg.SignalingURL = getEnv("PALAVER_SIGNALING_URL", cfg.SignalingURL)
	cfg.AccountID = getEnv("PALAVER_ACCOUNT_ID", cfg.AccountID)
	cfg.RelayPort = getEnvInt("PALAVER_RELAY_PORT", cfg.RelayPort)
	cfg.RelayRealm = getEnv("PALAVER_RELAY_REALM", cfg.RelayRealm)

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(baseDir, defaultDBFile)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.SignalingURL == "" {
		return nil, fmt.Errorf("signaling_url is not configured in %s", path)
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("account_id is not configured in %s", path)
	}

	keysDir := filepath.Join(baseDir, "keys")
	var err error
	if cfg.DeviceID == "" {
		if cfg.DeviceID, err = loadOrGenerateDeviceID(keysDir); err != nil {
			return nil, err
		}
	}
	if cfg.AuthToken, err = loadAuthToken(keysDir); err != nil {
		return nil, err
	}
	if cfg.VAPIDKeys, err = loadOrGenerateVAPID(keysDir); err != nil {
		return nil, err
	}
	if cfg.RelayEnabled {
		if cfg.RelayCreds, err = loadOrGenerateRelayCreds(keysDir); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save writes the non-secret part of the configuration back to baseDir.
func Save(baseDir string, cfg *Config) error {
	if baseDir == "" {
		baseDir = execDir()
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(baseDir, "config.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func loadOrGenerateDeviceID(keysDir string) (string, error) {
	file := filepath.Join(keysDir, "device-id.key")
	if data, err := os.ReadFile(file); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id, err := gonanoid.New(21)
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	if err := persistKey(file, id); err != nil {
		return "", err
	}
	return id, nil
}

// loadAuthToken reads the signaling token provisioned at account setup. The
// PALAVER_AUTH_TOKEN environment variable wins over the keys file.
func loadAuthToken(keysDir string) (string, error) {
	if token := os.Getenv("PALAVER_AUTH_TOKEN"); token != "" {
		return token, nil
	}
	data, err := os.ReadFile(filepath.Join(keysDir, "auth-token.key"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func loadOrGenerateVAPID(keysDir string) (notify.VAPIDKeys, error) {
	publicFile := filepath.Join(keysDir, "vapid-public.key")
	privateFile := filepath.Join(keysDir, "vapid-private.key")
	subjectFile := filepath.Join(keysDir, "vapid-subject.key")

	pub, pubErr := os.ReadFile(publicFile)
	priv, privErr := os.ReadFile(privateFile)
	if pubErr == nil && privErr == nil {
		keys := notify.VAPIDKeys{
			PublicKey:  strings.TrimSpace(string(pub)),
			PrivateKey: strings.TrimSpace(string(priv)),
			Subject:    getEnv("PALAVER_VAPID_SUBJECT", "mailto:admin@palaver.local"),
		}
		if subject, err := os.ReadFile(subjectFile); err == nil {
			keys.Subject = strings.TrimSpace(string(subject))
		}
		return keys, nil
	}

	keys, err := notify.GenerateVAPIDKeys(getEnv("PALAVER_VAPID_SUBJECT", "mailto:admin@palaver.local"))
	if err != nil {
		return notify.VAPIDKeys{}, err
	}
	if err := persistKey(publicFile, keys.PublicKey); err != nil {
		return notify.VAPIDKeys{}, err
	}
	if err := persistKey(privateFile, keys.PrivateKey); err != nil {
		return notify.VAPIDKeys{}, err
	}
	if err := persistKey(subjectFile, keys.Subject); err != nil {
		return notify.VAPIDKeys{}, err
	}
	return keys, nil
}

func loadOrGenerateRelayCreds(keysDir string) (relay.Credentials, error) {
	userFile := filepath.Join(keysDir, "relay-username.key")
	passFile := filepath.Join(keysDir, "relay-password.key")

	user, userErr := os.ReadFile(userFile)
	pass, passErr := os.ReadFile(passFile)
	if userErr == nil && passErr == nil {
		return relay.Credentials{
			Username: strings.TrimSpace(string(user)),
			Password: strings.TrimSpace(string(pass)),
		}, nil
	}

	password, err := gonanoid.New(32)
	if err != nil {
		return relay.Credentials{}, fmt.Errorf("generate relay password: %w", err)
	}
	creds := relay.Credentials{Username: "palaver", Password: password}
	if err := persistKey(userFile, creds.Username); err != nil {
		return relay.Credentials{}, err
	}
	if err := persistKey(passFile, creds.Password); err != nil {
		return relay.Credentials{}, err
	}
	return creds, nil
}

func persistKey(path, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(value), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
