package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration. Defaults come from the optional
// YAML file named by PAD_CONFIG; environment variables override both.
type Config struct {
	// Server
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"` // pad store directory

	// Grid
	GridSize int `yaml:"grid_size"`

	// Trigger engine
	Fade time.Duration `yaml:"fade"` // gain ramp on each trigger

	// Onset heuristic
	OnsetThreshold float64       `yaml:"onset_threshold"` // fraction of full scale
	OnsetBackoff   time.Duration `yaml:"onset_backoff"`

	// Master bus limiter
	LimiterThreshold float64       `yaml:"limiter_threshold"` // dB
	LimiterKnee      float64       `yaml:"limiter_knee"`      // dB
	LimiterRatio     float64       `yaml:"limiter_ratio"`
	LimiterAttack    time.Duration `yaml:"limiter_attack"`
	LimiterRelease   time.Duration `yaml:"limiter_release"`

	// Video
	VideoDecoders int `yaml:"video_decoders"` // concurrent playing elements

	// Media tools and outputs
	FFmpegPath string `yaml:"ffmpeg_path"`
	Output     string `yaml:"output"`    // none, oto
	MIDIPort   string `yaml:"midi_port"` // substring match; empty disables MIDI
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:             8080,
		DataDir:          "./pads",
		GridSize:         12,
		Fade:             5 * time.Millisecond,
		OnsetThreshold:   0.1,
		OnsetBackoff:     40 * time.Millisecond,
		LimiterThreshold: -12,
		LimiterKnee:      30,
		LimiterRatio:     12,
		LimiterAttack:    3 * time.Millisecond,
		LimiterRelease:   200 * time.Millisecond,
		VideoDecoders:    8,
		FFmpegPath:       "ffmpeg",
		Output:           "none",
	}
}

// Load reads configuration from PAD_CONFIG (if set) and environment
// variables with sane defaults. A missing or broken config file is
// reported but never fatal.
func Load() (Config, error) {
	cfg := Defaults()
	var fileErr error
	if path := os.Getenv("PAD_CONFIG"); path != "" {
		fileErr = cfg.mergeFile(path)
	}
	cfg.applyEnv()
	return cfg, fileErr
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PAD_PORT", c.Port)
	c.DataDir = envStr("PAD_DATA_DIR", c.DataDir)
	c.GridSize = envInt("PAD_GRID_SIZE", c.GridSize)
	c.Fade = envMillis("PAD_FADE_MS", c.Fade)
	c.OnsetThreshold = envFloat("PAD_ONSET_THRESHOLD", c.OnsetThreshold)
	c.OnsetBackoff = envMillis("PAD_ONSET_BACKOFF_MS", c.OnsetBackoff)
	c.LimiterThreshold = envFloat("PAD_LIMITER_THRESHOLD", c.LimiterThreshold)
	c.LimiterKnee = envFloat("PAD_LIMITER_KNEE", c.LimiterKnee)
	c.LimiterRatio = envFloat("PAD_LIMITER_RATIO", c.LimiterRatio)
	c.LimiterAttack = envMillis("PAD_LIMITER_ATTACK_MS", c.LimiterAttack)
	c.LimiterRelease = envMillis("PAD_LIMITER_RELEASE_MS", c.LimiterRelease)
	c.VideoDecoders = envInt("PAD_VIDEO_DECODERS", c.VideoDecoders)
	c.FFmpegPath = envStr("PAD_FFMPEG", c.FFmpegPath)
	c.Output = envStr("PAD_OUTPUT", c.Output)
	c.MIDIPort = envStr("PAD_MIDI_PORT", c.MIDIPort)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envMillis reads a float number of milliseconds.
func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Millisecond))
		}
	}
	return fallback
}
