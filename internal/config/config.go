package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port           string `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	ModelBackend   string `env:"MODEL_BACKEND" env-default:"onnx" env-description:"onnx or native"`
	ModelPath      string `env:"MODEL_PATH" env-default:"models/oct_gradcam.onnx" env-description:"model graph or native weight file"`
	MetadataPath   string `env:"METADATA_PATH" env-default:"models/model_metadata.json" env-description:"ONNX model metadata"`
	ORTLibraryPath string `env:"ONNXRUNTIME_LIB" env-description:"path to the onnxruntime shared library"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" env-default:"5242880" env-description:"upload size limit in bytes"`
	LogLevel       string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" env-default:"false" env-description:"human readable logs"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	return &cfg, nil
}

// Usage describes every supported variable.
func Usage() string {
	text, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
