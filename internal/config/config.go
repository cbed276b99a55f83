// Package config loads the demo driver's settings from a YAML file and
// CRDOC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/kevinxiao27/crdoc/codec"
	"github.com/kevinxiao27/crdoc/doc"
	"github.com/kevinxiao27/crdoc/internal/sim"
	"github.com/kevinxiao27/crdoc/ol"
)

type Config struct {
	Document struct {
		// Peer is the local peer id; zero picks a random one.
		Peer              uint64 `mapstructure:"peer"`
		BufferCapacity    int    `mapstructure:"buffer_capacity" validate:"min=1"`
		CompressThreshold int    `mapstructure:"compress_threshold" validate:"min=0"`
	} `mapstructure:"document"`
	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
	Sim struct {
		Replicas      int   `mapstructure:"replicas" validate:"min=2,max=64"`
		Rounds        int   `mapstructure:"rounds" validate:"min=1"`
		EditsPerRound int   `mapstructure:"edits_per_round" validate:"min=1"`
		MaxChunk      int   `mapstructure:"max_chunk" validate:"min=1"`
		Seed          int64 `mapstructure:"seed"`
	} `mapstructure:"sim"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("document.peer", 0)
	v.SetDefault("document.buffer_capacity", doc.DefaultBufferCapacity)
	v.SetDefault("document.compress_threshold", codec.DefaultCompressThreshold)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	simDefaults := sim.DefaultConfig()
	v.SetDefault("sim.replicas", simDefaults.Replicas)
	v.SetDefault("sim.rounds", simDefaults.Rounds)
	v.SetDefault("sim.edits_per_round", simDefaults.EditsPerRound)
	v.SetDefault("sim.max_chunk", simDefaults.MaxChunk)
	v.SetDefault("sim.seed", simDefaults.Seed)
}

// Load reads path, or crdoc.yaml from ./config or the working directory
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CRDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crdoc")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Logger builds the zerolog logger described by the log section.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if c.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// PeerID returns the configured peer, or a fresh random one.
func (c *Config) PeerID() ol.PeerID {
	if c.Document.Peer == 0 {
		return ol.NewPeerID()
	}
	return ol.PeerID(c.Document.Peer)
}

func (c *Config) DocumentOptions(logger zerolog.Logger) []doc.Option {
	return []doc.Option{
		doc.WithBufferCapacity(c.Document.BufferCapacity),
		doc.WithCompressionThreshold(c.Document.CompressThreshold),
		doc.WithLogger(logger),
	}
}

func (c *Config) SimConfig(logger zerolog.Logger) sim.Config {
	return sim.Config{
		Replicas:      c.Sim.Replicas,
		Rounds:        c.Sim.Rounds,
		EditsPerRound: c.Sim.EditsPerRound,
		MaxChunk:      c.Sim.MaxChunk,
		Seed:          c.Sim.Seed,
		Logger:        logger,
	}
}
