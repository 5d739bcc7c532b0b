package advisory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/policy"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// GroqConfigFromConfig reads the groq_* keys. An empty API key is returned
// as is; NewGroqClient rejects it.
func GroqConfigFromConfig(cm *utils.ConfigManager) (GroqConfig, error) {
	temperature := 0.3
	if v, ok := cm.GetConfig("groq_temperature"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 2 {
			return GroqConfig{}, fmt.Errorf("groq_temperature must be between 0 and 2, got %q", v)
		}
		temperature = t
	}

	return GroqConfig{
		APIURL:      cm.GetConfigWithDefault("groq_api_url", "https://api.groq.com/openai/v1/chat/completions"),
		APIKey:      cm.GetConfigWithDefault("groq_api_key", ""),
		Model:       cm.GetConfigWithDefault("groq_model", "llama-3.1-70b-versatile"),
		Temperature: temperature,
		MaxTokens:   cm.GetConfigInt("groq_max_tokens", 200, 1, 4096),
		Timeout:     time.Duration(cm.GetConfigInt("advisory_timeout_seconds", 10, 1, 120)) * time.Second,
	}, nil
}

// GateFromConfig wires the advisory gate from ai_mode and the groq_* keys.
// A missing API key downgrades the gate to rules.
func GateFromConfig(cm *utils.ConfigManager, pol *policy.SpendingPolicy, logger utils.Logger) (*Gate, error) {
	mode, err := ParseMode(cm.GetConfigWithDefault("ai_mode", string(ModeRules)))
	if err != nil {
		return nil, err
	}

	groqCfg, err := GroqConfigFromConfig(cm)
	if err != nil {
		return nil, err
	}

	var completer Completer
	if mode != ModeRules {
		client, err := NewGroqClient(groqCfg)
		if err == nil {
			completer = client
		} else if logger != nil {
			logger.Warn(fmt.Sprintf("Advisory client unavailable: %v", err), "advisory")
		}
	}

	return NewGate(Config{Mode: mode, Timeout: groqCfg.Timeout}, completer, pol, logger), nil
}
