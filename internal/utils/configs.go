package utils

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

//go:embed configs
var defaultConfig embed.FS

type Config map[string]string

type ConfigManager struct {
	configsPath string
	configs     Config
	configMutex sync.RWMutex
}

// envOverrides maps recognized environment variables onto config keys.
// Values present in the environment (or a loaded .env file) win over the file.
var envOverrides = map[string]string{
	"PORT":                      "api_port",
	"AGENT_PRIVATE_KEY":         "agent_private_key",
	"AGENT_KEYSTORE_PASSPHRASE": "agent_keystore_passphrase",
	"GROQ_API_KEY":              "groq_api_key",
	"GROQ_MODEL":                "groq_model",
	"GROQ_API_URL":              "groq_api_url",
	"AI_MODE":                   "ai_mode",
	"MAX_PAYMENT_PER_TX":        "max_payment_per_tx",
	"DAILY_SPENDING_LIMIT":      "daily_spending_limit",
	"AUTO_PAY_ENABLED":          "auto_pay_enabled",
	"ADVISORY_TIMEOUT_SECONDS":  "advisory_timeout_seconds",
	"INVOICE_TTL_SECONDS":       "invoice_ttl_seconds",
	"GAME_FREE_PLAYS":           "free_play_limit",
	"GAME_FEE_AMOUNT":           "game_fee_amount",
	"GAME_FEE_CURRENCY":         "game_fee_currency",
	"GAME_MAX_TIMEOUT":          "game_max_timeout",
	"FACILITATOR_ADDRESS":       "facilitator_address",
	"USDC_T3":                   "usdc_contract",
	"CRONOS_RPC":                "rpc_url",
	"CRONOS_TESTNET_RPC":        "rpc_url",
	"BACKEND_URL":               "backend_url",
	"GAME_API_URL":              "backend_url",
	"REWARD_WALLET_PRIVATE_KEY": "reward_wallet_private_key",
	"DASHBOARD_JWT_SECRET":      "dashboard_jwt_secret",
	"LOG_LEVEL":                 "log_level",
}

// NewConfigManager reads the key=value file at path. An empty path means
// the "configs" file in the config dir, seeded from the embedded default on
// first run. Environment overrides are applied on top.
func NewConfigManager(path string) (*ConfigManager, error) {
	if path == "" {
		var err error
		if path, err = seedDefaultConfig(GetAppPaths("").ConfigDir); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	configs, err := readConfigs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cm := &ConfigManager{
		configsPath: path,
		configs:     configs,
	}
	cm.applyEnv()

	return cm, nil
}

// NewConfigManagerFromValues builds a manager over an in-memory config.
// Nothing is read from or written to disk.
func NewConfigManagerFromValues(values Config) *ConfigManager {
	configs := make(Config, len(values))
	maps.Copy(configs, values)
	return &ConfigManager{configs: configs}
}

// seedDefaultConfig writes the embedded defaults into dir unless a configs
// file already exists there, and returns its path.
func seedDefaultConfig(dir string) (string, error) {
	path := filepath.Join(dir, "configs")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	data, err := defaultConfig.ReadFile("configs/configs")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0644)
}

// Path is the file the manager was loaded from; empty for in-memory configs.
func (cm *ConfigManager) Path() string {
	return cm.configsPath
}

// LoadDotEnv loads a .env file into the process environment and reapplies
// the environment overrides. A missing file is not an error.
func (cm *ConfigManager) LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("failed to load env files %v: %w", existing, err)
		}
	}

	cm.applyEnv()
	return nil
}

func (cm *ConfigManager) applyEnv() {
	cm.configMutex.Lock()
	defer cm.configMutex.Unlock()

	for env, key := range envOverrides {
		if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
			cm.configs[key] = strings.TrimSpace(value)
		}
	}
}

func readConfigs(configsPath string) (Config, error) {
	// init config
	config := Config{
		"file": configsPath,
	}

	// return error if config filepath is not provided
	if len(configsPath) == 0 {
		return nil, fmt.Errorf("invalid configs path `%s`", configsPath)
	}

	file, err := os.Open(configsPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	for {
		line, err := reader.ReadString('\n')

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			trimmed = ""
		}

		// check line for '=' delimiter
		if equal := strings.Index(trimmed, "="); equal >= 0 {
			if key := strings.TrimSpace(trimmed[:equal]); len(key) > 0 {
				value := ""
				if len(trimmed) > equal {
					value = strings.TrimSpace(trimmed[equal+1:])
				}

				config[key] = value
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (cm *ConfigManager) GetConfig(key string) (string, bool) {
	cm.configMutex.RLock()
	defer cm.configMutex.RUnlock()

	value, exists := cm.configs[key]
	return value, exists
}

func (cm *ConfigManager) GetConfigWithDefault(key string, defaultValue string) string {
	if value, exists := cm.GetConfig(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// configWarn reports a malformed value that fell back to its default.
var configWarn = func(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "config: "+format+"\n", args...)
}

// GetConfigInt parses an integer in [min, max]; anything else yields
// defaultValue.
func (cm *ConfigManager) GetConfigInt(key string, defaultValue int, min int, max int) int {
	return int(cm.GetConfigInt64(key, int64(defaultValue), int64(min), int64(max)))
}

func (cm *ConfigManager) GetConfigInt64(key string, defaultValue int64, min int64, max int64) int64 {
	raw, ok := cm.GetConfig(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	switch {
	case err != nil:
		configWarn("%s=%q is not an integer, using %d", key, raw, defaultValue)
	case value < min || value > max:
		configWarn("%s=%d is outside [%d, %d], using %d", key, value, min, max, defaultValue)
	default:
		return value
	}
	return defaultValue
}

// GetConfigSlice splits a comma-separated value, dropping empty entries.
func (cm *ConfigManager) GetConfigSlice(key string, defaultValues []string) []string {
	var values []string
	for _, value := range strings.Split(cm.GetConfigWithDefault(key, ""), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return defaultValues
	}
	return values
}

// GetConfigBool parses a boolean from config with default fallback
func (cm *ConfigManager) GetConfigBool(key string, defaultValue bool) bool {
	valueStr := cm.GetConfigWithDefault(key, strconv.FormatBool(defaultValue))
	valueStr = strings.ToLower(strings.TrimSpace(valueStr))

	switch valueStr {
	case "true", "yes", "1", "on", "enabled":
		return true
	case "false", "no", "0", "off", "disabled":
		return false
	default:
		configWarn("%s=%q is not a boolean, using %v", key, valueStr, defaultValue)
		return defaultValue
	}
}

// SetConfig sets a configuration value at runtime
func (cm *ConfigManager) SetConfig(key string, value interface{}) {
	cm.configMutex.Lock()
	defer cm.configMutex.Unlock()

	var strValue string
	switch v := value.(type) {
	case string:
		strValue = v
	case bool:
		strValue = strconv.FormatBool(v)
	case int:
		strValue = strconv.Itoa(v)
	case int64:
		strValue = strconv.FormatInt(v, 10)
	case float64:
		strValue = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		strValue = fmt.Sprintf("%v", v)
	}

	cm.configs[key] = strValue
}
