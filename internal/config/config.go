// Package config holds the application configuration file: the tuning of
// each pipeline stage plus server, storage and snapshot settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/hands"
	"github.com/ayusman/pianovision/internal/keys"
)

// Config holds the application configuration
type Config struct {
	Bounder  bounder.Config `json:"bounder"`
	Keys     keys.Config    `json:"keys"`
	Hands    hands.Config   `json:"hands"`
	Pipeline PipelineConfig `json:"pipeline"`
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Snapshot SnapshotConfig `json:"snapshot"`
}

// PipelineConfig holds per-frame processing options
type PipelineConfig struct {
	RemoveHands       bool    `json:"remove_hands"`
	CoverageThreshold float64 `json:"coverage_threshold"`
	MotionThreshold   float64 `json:"motion_threshold"`
}

// ServerConfig holds configuration for the HTTP preview server
type ServerConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// StorageConfig holds configuration for input videos and the database
type StorageConfig struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

// SnapshotConfig holds configuration for saved output images
type SnapshotConfig struct {
	Dir     string `json:"dir"`
	Format  string `json:"format"`
	Quality int    `json:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Bounder: bounder.DefaultConfig(),
		Keys:    keys.DefaultConfig(),
		Hands:   hands.DefaultConfig(),
		Pipeline: PipelineConfig{
			RemoveHands:       true,
			CoverageThreshold: 0.25,
			MotionThreshold:   1.0,
		},
		Server: ServerConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:8090",
			JPEGQuality: 80,
		},
		Storage: StorageConfig{
			DataDir: "data",
			DBPath:  "",
		},
		Snapshot: SnapshotConfig{
			Dir:     "",
			Format:  "png",
			Quality: 90,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from
// the file keep their default values.
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

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
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
	b := c.Bounder
	if b.MinAreaRatio <= 0 || b.MaxAreaRatio > 1 || b.MinAreaRatio >= b.MaxAreaRatio {
		return fmt.Errorf("bounder area ratios must satisfy 0 < min_area_ratio < max_area_ratio <= 1")
	}
	if b.MinAspect < 1 || b.MaxAspect <= b.MinAspect {
		return fmt.Errorf("bounder aspect range must satisfy 1 <= min_aspect < max_aspect")
	}

	k := c.Keys
	for name, band := range map[string]keys.Band{"upper_band": k.UpperBand, "lower_band": k.LowerBand} {
		if band.Top < 0 || band.Bottom > 1 || band.Top >= band.Bottom {
			return fmt.Errorf("keys.%s must satisfy 0 <= top < bottom <= 1", name)
		}
	}
	if k.MinWhiteKeys < 1 || k.MinWhiteKeys > keys.MaxWhiteKeys {
		return fmt.Errorf("keys.min_white_keys must be between 1 and %d", keys.MaxWhiteKeys)
	}
	if k.PatternFit < 0 || k.PatternFit > 1 {
		return fmt.Errorf("keys.pattern_fit must be between 0 and 1")
	}

	if err := c.Hands.Thresholds.Validate(); err != nil {
		return fmt.Errorf("hands: %w", err)
	}
	if c.Hands.DilateIterations < 0 || c.Hands.DilateSize < 0 || c.Hands.OpenSize < 0 {
		return fmt.Errorf("hands kernel sizes and iterations must not be negative")
	}

	if c.Pipeline.CoverageThreshold < 0 || c.Pipeline.CoverageThreshold > 1 {
		return fmt.Errorf("pipeline.coverage_threshold must be between 0 and 1")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty when the server is enabled")
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("server.jpeg_quality must be between 1 and 100")
	}

	switch c.Snapshot.Format {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("snapshot.format must be png, jpg or webp")
	}
	if c.Snapshot.Quality < 1 || c.Snapshot.Quality > 100 {
		return fmt.Errorf("snapshot.quality must be between 1 and 100")
	}

	return nil
}

// DatabasePath returns the calibration database path, defaulting to a file
// inside the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(c.Storage.DataDir, "pianovision.db")
}

// VideoPath returns the video file for a video identifier.
func (c *Config) VideoPath(name string) string {
	return filepath.Join(c.Storage.DataDir, name+".mp4")
}

// ReferencePath returns the still reference frame for a video identifier.
func (c *Config) ReferencePath(name string) string {
	return filepath.Join(c.Storage.DataDir, name+"-f00.png")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "pianovision", "config.json")
}
