package svara

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/adiwarsito/svara/pkg/assistant"
	twilioadapter "github.com/adiwarsito/svara/pkg/telephony/twilio"
)

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

type SecretsConfig struct {
	// EncryptionKey is the AES-256 key for provider-credential blobs at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
	// APIKeySecret is the HMAC key for tenant API keys.
	APIKeySecret string `mapstructure:"api_key_secret"`
	// JWTSecret signs media tokens and management-API tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CredentialsConfig struct {
	Deepgram   string `mapstructure:"deepgram"`
	OpenAI     string `mapstructure:"openai"`
	Anthropic  string `mapstructure:"anthropic"`
	ElevenLabs string `mapstructure:"elevenlabs"`
	Cartesia   string `mapstructure:"cartesia"`
}

// ForSTT returns the vendor key for an STT provider name.
func (c CredentialsConfig) ForSTT(provider string) string {
	switch strings.ToLower(provider) {
	case "deepgram":
		return c.Deepgram
	case "openai", "whisper":
		return c.OpenAI
	default:
		return ""
	}
}

// ForLLM returns the vendor key for an LLM provider name.
func (c CredentialsConfig) ForLLM(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return c.OpenAI
	case "anthropic":
		return c.Anthropic
	default:
		return ""
	}
}

// ForTTS returns the vendor key for a TTS provider name.
func (c CredentialsConfig) ForTTS(provider string) string {
	switch strings.ToLower(provider) {
	case "elevenlabs":
		return c.ElevenLabs
	case "cartesia":
		return c.Cartesia
	default:
		return ""
	}
}

type KnowledgeConfig struct {
	QdrantURL    string `mapstructure:"qdrant_url"`
	QdrantAPIKey string `mapstructure:"qdrant_api_key"`
}

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server ServerConfig `mapstructure:"server"`
	// PublicURL is the externally reachable base for carrier callbacks.
	PublicURL string `mapstructure:"public_url"`
	// MediaWSURL is the externally reachable base for the media bridge.
	MediaWSURL    string `mapstructure:"media_ws_url"`
	RecordingsDir string `mapstructure:"recordings_dir"`
	DatabaseURL   string `mapstructure:"database_url"`
	RedisURL      string `mapstructure:"redis_url"`

	Secrets     SecretsConfig        `mapstructure:"secrets"`
	Credentials CredentialsConfig    `mapstructure:"credentials"`
	Twilio      twilioadapter.Config `mapstructure:"twilio"`
	Knowledge   KnowledgeConfig      `mapstructure:"knowledge"`

	Assistants []assistant.Assistant `mapstructure:"assistants"`
	// Numbers maps dialled numbers to inbound assistant ids.
	Numbers map[string]string `mapstructure:"numbers"`
	// DefaultAssistant handles web calls created without an explicit id.
	DefaultAssistant string `mapstructure:"default_assistant"`
}

// LoadConfig reads a config file, expands ${ENV} references, and validates.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "${HOST}")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origin", "${CORS_ORIGIN}")
	v.SetDefault("public_url", "${API_URL}")
	v.SetDefault("media_ws_url", "${VOICE_ENGINE_WS_URL}")
	v.SetDefault("recordings_dir", "recordings")
	v.SetDefault("database_url", "${DATABASE_URL}")
	v.SetDefault("redis_url", "${REDIS_URL}")
	v.SetDefault("secrets.encryption_key", "${ENCRYPTION_KEY}")
	v.SetDefault("secrets.api_key_secret", "${API_KEY_SECRET}")
	v.SetDefault("secrets.jwt_secret", "${JWT_SECRET}")
	v.SetDefault("credentials.deepgram", "${DEEPGRAM_API_KEY}")
	v.SetDefault("credentials.openai", "${OPENAI_API_KEY}")
	v.SetDefault("credentials.anthropic", "${ANTHROPIC_API_KEY}")
	v.SetDefault("credentials.elevenlabs", "${ELEVENLABS_API_KEY}")
	v.SetDefault("credentials.cartesia", "${CARTESIA_API_KEY}")
	v.SetDefault("twilio.account_sid", "${TWILIO_ACCOUNT_SID}")
	v.SetDefault("twilio.auth_token", "${TWILIO_AUTH_TOKEN}")
	v.SetDefault("knowledge.qdrant_url", "${QDRANT_URL}")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		rawJSONHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	expandEnvStrings(reflect.ValueOf(&cfg))
	if cfg.Twilio.PublicURL == "" {
		cfg.Twilio.PublicURL = cfg.PublicURL
	}
	if cfg.Twilio.MediaWSURL == "" {
		cfg.Twilio.MediaWSURL = cfg.MediaWSURL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Secrets.JWTSecret) == "" {
		return fmt.Errorf("secrets.jwt_secret is required")
	}
	ids := map[string]bool{}
	for i := range c.Assistants {
		if err := c.Assistants[i].Validate(); err != nil {
			return err
		}
		if ids[c.Assistants[i].ID] {
			return fmt.Errorf("duplicate assistant id %q", c.Assistants[i].ID)
		}
		ids[c.Assistants[i].ID] = true
	}
	for number, assistantID := range c.Numbers {
		if !ids[assistantID] {
			return fmt.Errorf("number %s references unknown assistant %q", number, assistantID)
		}
	}
	if c.DefaultAssistant != "" && !ids[c.DefaultAssistant] {
		return fmt.Errorf("default_assistant references unknown assistant %q", c.DefaultAssistant)
	}
	return nil
}

// AssistantByID resolves a configured assistant.
func (c *Config) AssistantByID(id string) (*assistant.Assistant, bool) {
	for i := range c.Assistants {
		if c.Assistants[i].ID == id {
			return &c.Assistants[i], true
		}
	}
	return nil, false
}

// AssistantForNumber implements the telephony number directory.
func (c *Config) AssistantForNumber(number string) (string, bool) {
	id, ok := c.Numbers[number]
	return id, ok
}

// rawJSONHook lets config files carry tool parameter schemas as plain maps
// while the Tool type keeps them as opaque JSON.
func rawJSONHook() mapstructure.DecodeHookFuncType {
	rawType := reflect.TypeOf(json.RawMessage(nil))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != rawType {
			return data, nil
		}
		switch data.(type) {
		case string:
			return json.RawMessage(data.(string)), nil
		default:
			raw, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(raw), nil
		}
	}
}

func expandEnvStrings(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandEnvStrings(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandEnvStrings(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandEnvStrings(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				v.SetMapIndex(key, reflect.ValueOf(os.ExpandEnv(val.String())))
			}
		}
	}
}
