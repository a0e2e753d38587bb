package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changegate.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
[gitlab]
url = "https://gitlab.example.com"
token = "glpat-abc"

[bundle_service]
url = "https://bundle.example.com/graphql"
token = "bundle-token"

[gate]
good_to_test_approvers = ["alice", "bob"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://gitlab.example.com", cfg.GitLab.URL)
	require.Equal(t, "glpat-abc", cfg.GitLab.Token)
	require.Equal(t, []string{"alice", "bob"}, cfg.Gate.GoodToTestApprovers)

	// Defaults fill what the file omits.
	require.Equal(t, "change-owners-bot", cfg.Gate.BotUsername)
	require.Equal(t, 10, cfg.Gate.ShardTimeoutSeconds)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[gate]
bot_username = "other-bot"
shard_timeout_seconds = 30
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "other-bot", cfg.Gate.BotUsername)
	require.Equal(t, 30, cfg.Gate.ShardTimeoutSeconds)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[gitlab]
url = "https://gitlab.example.com"
`)
	t.Setenv("CHANGEGATE_GITLAB_TOKEN", "from-env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.GitLab.Token)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changegate.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "change-owners-bot", cfg.Gate.BotUsername)

	require.Error(t, InitConfig(path))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		cfg.GitLab.URL = "https://gitlab.example.com"
		cfg.GitLab.Token = "token"
		cfg.BundleService.URL = "https://bundle.example.com"
		cfg.Gate.BotUsername = "bot"
		cfg.Gate.ShardTimeoutSeconds = 10
		return &cfg
	}
	require.NoError(t, Validate(valid()))

	cfg := valid()
	cfg.GitLab.URL = ""
	require.ErrorContains(t, Validate(cfg), "gitlab url")

	cfg = valid()
	cfg.GitLab.Token = ""
	require.ErrorContains(t, Validate(cfg), "gitlab token")

	cfg = valid()
	cfg.BundleService.URL = ""
	require.ErrorContains(t, Validate(cfg), "bundle service url")

	cfg = valid()
	cfg.Gate.BotUsername = ""
	require.ErrorContains(t, Validate(cfg), "bot username")

	cfg = valid()
	cfg.Gate.ShardTimeoutSeconds = 0
	require.ErrorContains(t, Validate(cfg), "shard timeout")
}
