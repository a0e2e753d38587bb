package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	GitLab struct {
		URL   string `koanf:"url"`
		Token string `koanf:"token"`
	} `koanf:"gitlab"`

	BundleService struct {
		URL   string `koanf:"url"`
		Token string `koanf:"token"`
	} `koanf:"bundle_service"`

	Gate struct {
		BotUsername         string   `koanf:"bot_username"`
		GoodToTestApprovers []string `koanf:"good_to_test_approvers"`
		ShardTimeoutSeconds int      `koanf:"shard_timeout_seconds"`
	} `koanf:"gate"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"gate.bot_username":          "change-owners-bot",
		"gate.shard_timeout_seconds": 10,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./changegate.toml", "$HOME/.changegate.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix CHANGEGATE_
	k.Load(env.Provider("CHANGEGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHANGEGATE_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# changegate configuration

[gitlab]
url = "https://gitlab.example.com"
token = "your-gitlab-token"

[bundle_service]
url = "https://bundle-server.example.com/graphql"

[gate]
bot_username = "change-owners-bot"
good_to_test_approvers = []
shard_timeout_seconds = 10
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitLab.URL == "" {
		return fmt.Errorf("gitlab url is required")
	}
	if config.GitLab.Token == "" {
		return fmt.Errorf("gitlab token is required")
	}
	if config.BundleService.URL == "" {
		return fmt.Errorf("bundle service url is required")
	}
	if config.Gate.BotUsername == "" {
		return fmt.Errorf("gate bot username is required")
	}
	if config.Gate.ShardTimeoutSeconds <= 0 {
		return fmt.Errorf("shard timeout must be positive")
	}
	return nil
}
