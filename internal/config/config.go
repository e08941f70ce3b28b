// Package config loads the node's recognized options from a YAML file.
package config

import (
	"os"
	"time"

	"go.yaml.in/yaml/v2"
)

// Config holds both the domain-level consensus/storage options and the
// ambient process options the node shell needs (listen address, data
// directory, discovery, metrics).
type Config struct {
	// Domain options.
	OfflineGeneration    bool          `yaml:"offlineGeneration"`
	BlockGenerationDelay time.Duration `yaml:"blockGenerationDelay"`
	// MaxBlocksChunks is loaded but not wired into the controller, whose
	// locator length is the constant controller.MaxBlocksChunks.
	MaxBlocksChunks      int           `yaml:"maxBlocksChunks"`
	SegmentSize          int           `yaml:"segmentSize"`
	TreeDir              string        `yaml:"treeDir"`

	// Ambient process options.
	ListenPort  int      `yaml:"listenPort"`
	DataDir     string   `yaml:"dataDir"`
	EnableMDNS  bool     `yaml:"enableMDNS"`
	Bootnodes   []string `yaml:"bootnodes"`
	MetricsAddr string   `yaml:"metricsAddr"`
}

// Default returns the recognized options' default values.
func Default() Config {
	return Config{
		OfflineGeneration:    false,
		BlockGenerationDelay: 2 * time.Second,
		MaxBlocksChunks:      64,
		SegmentSize:          1024,
		TreeDir:              "data/tree",
		ListenPort:           4001,
		DataDir:              "data",
		EnableMDNS:           true,
		MetricsAddr:          ":9090",
	}
}

// Load reads a YAML config file at path, starting from Default and
// overriding whatever keys the file sets. A missing file is not an error —
// the caller gets the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
