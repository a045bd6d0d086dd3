package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Backends that can answer vision requests
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config holds the application configuration
type Config struct {
	Model  ModelConfig  `json:"model"`
	Upload UploadConfig `json:"upload"`
	Render RenderConfig `json:"render"`
	Server ServerConfig `json:"server"`
	Output OutputConfig `json:"output"`
}

// ModelConfig selects and tunes the vision model backend. An empty Name
// lets the backend pick its default model.
type ModelConfig struct {
	Backend        string `json:"backend"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	APIKey         string `json:"api_key,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SendQuality    int    `json:"send_quality"`
}

// UploadConfig limits what users may upload
type UploadConfig struct {
	TargetWidth      int      `json:"target_width"`
	MaxBytes         int64    `json:"max_bytes"`
	SupportedFormats []string `json:"supported_formats"`
}

// RenderConfig holds overlay drawing settings
type RenderConfig struct {
	FontPath    string  `json:"font_path"`
	FontSize    float64 `json:"font_size"`
	StrokeWidth int     `json:"stroke_width"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr string `json:"addr"`
}

// OutputConfig holds configuration for the annotated image encoding
type OutputConfig struct {
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Backend:        BackendGemini,
			TimeoutSeconds: 120,
			SendQuality:    90,
		},
		Upload: UploadConfig{
			TargetWidth:      1024,
			MaxBytes:         20 << 20,
			SupportedFormats: []string{"jpg", "jpeg", "png"},
		},
		Render: RenderConfig{
			FontSize:    14,
			StrokeWidth: 4,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Output: OutputConfig{
			Format:  "png",
			Quality: 90,
		},
	}
}

// SwitchBackend selects backend. A model name chosen for a different backend
// is cleared, since it would not exist there.
func (m *ModelConfig) SwitchBackend(backend string) {
	if backend != m.Backend {
		m.Name = ""
	}
	m.Backend = backend
}

// Timeout returns the model timeout as a duration
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadEnv reads the given .env files (".env" when none are given) into the
// process environment, then applies the VISION_* and API key variables on
// top of c. A missing .env file is not an error. Variables already set in
// the environment win over .env entries.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv("VISION_BACKEND"); v != "" {
		c.Model.SwitchBackend(v)
	}
	setString(&c.Model.Name, "VISION_MODEL")
	setString(&c.Model.URL, "VISION_MODEL_URL")
	setString(&c.Server.Addr, "VISION_ADDR")
	setString(&c.Render.FontPath, "VISION_FONT_PATH")
	setString(&c.Output.Format, "VISION_OUTPUT_FORMAT")

	if v, ok := os.LookupEnv("VISION_TIMEOUT"); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("VISION_TIMEOUT: %w", err)
		}
		c.Model.TimeoutSeconds = n
	}
	if v, ok := os.LookupEnv("VISION_MAX_BYTES"); ok {
		n, err := cast.ToInt64E(v)
		if err != nil {
			return fmt.Errorf("VISION_MAX_BYTES: %w", err)
		}
		c.Upload.MaxBytes = n
	}

	if c.Model.APIKey == "" {
		switch c.Model.Backend {
		case BackendGemini:
			c.Model.APIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
		case BackendOpenAI:
			c.Model.APIKey = firstEnv("OPENAI_API_KEY")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// SaveToFile saves configuration to a JSON file. The API key is never
// written.
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Model.APIKey = ""
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendGemini, BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("model.backend must be one of gemini, ollama, openai (got %q)", c.Model.Backend)
	}

	if c.Model.Backend == BackendOllama && c.Model.Name == "" {
		return fmt.Errorf("model.name is required for the ollama backend")
	}

	if c.Model.TimeoutSeconds < 1 {
		return fmt.Errorf("model.timeout_seconds must be positive")
	}

	if c.Model.SendQuality < 1 || c.Model.SendQuality > 100 {
		return fmt.Errorf("model.send_quality must be between 1 and 100")
	}

	if c.Upload.TargetWidth < 0 {
		return fmt.Errorf("upload.target_width cannot be negative")
	}

	if c.Upload.MaxBytes < 1 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	if len(c.Upload.SupportedFormats) == 0 {
		return fmt.Errorf("upload.supported_formats cannot be empty")
	}
	for _, f := range c.Upload.SupportedFormats {
		switch strings.ToLower(f) {
		case "jpg", "jpeg", "png":
		default:
			return fmt.Errorf("upload.supported_formats: %q is not supported (jpg, jpeg, png)", f)
		}
	}

	if c.Render.FontSize <= 0 {
		return fmt.Errorf("render.font_size must be positive")
	}

	if c.Render.StrokeWidth < 1 {
		return fmt.Errorf("render.stroke_width must be positive")
	}

	switch strings.ToLower(c.Output.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.format must be png, jpg or webp (got %q)", c.Output.Format)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "vision-studio", "config.json")
}
