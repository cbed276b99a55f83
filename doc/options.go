package doc

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/kevinxiao27/crdoc/codec"
)

// DefaultBufferCapacity bounds how many ops with unmet dependencies a
// document holds before merges start failing with ErrBufferOverflow.
const DefaultBufferCapacity = 10_000

var configValidate = validator.New()

// Config holds the tunables of a Document.
type Config struct {
	BufferCapacity    int            `validate:"min=1"`
	CompressThreshold int            `validate:"min=0"`
	Logger            zerolog.Logger `validate:"-"`
}

func defaultConfig() Config {
	return Config{
		BufferCapacity:    DefaultBufferCapacity,
		CompressThreshold: codec.DefaultCompressThreshold,
		Logger:            zerolog.Nop(),
	}
}

// Validate checks the config's bounds.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

type Option func(*Config)

func WithBufferCapacity(n int) Option {
	return func(c *Config) { c.BufferCapacity = n }
}

// WithCompressionThreshold sets the encoded body size above which exports
// are zstd-compressed. Zero disables compression.
func WithCompressionThreshold(n int) Option {
	return func(c *Config) { c.CompressThreshold = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func buildConfig(opts []Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, cfg.Validate()
}
