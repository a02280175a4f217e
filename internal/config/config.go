package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/logger"
	"Attestor/internal/verifier"
	"Attestor/internal/weight"
)

// Config holds the attestor configuration.
type Config struct {
	// DataDir is the directory for persistent storage.
	DataDir string `yaml:"data_dir"`

	// HTTPAddr is the HTTP API listen address.
	HTTPAddr string `yaml:"http_addr"`

	// QUICAddr is the relay listen address. Empty disables the relay.
	QUICAddr string `yaml:"quic_addr"`

	// KeyPath is the path to the relay's Ed25519 identity key.
	// A missing file is generated on first start.
	KeyPath string `yaml:"key_path"`

	// Hash is the protocol hash function: keccak256 or blake3.
	Hash string `yaml:"hash"`

	// Log configures the logger.
	Log LogConfig `yaml:"log"`

	// Gateway holds the genesis settings applied on first start.
	Gateway GatewayConfig `yaml:"gateway"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `yaml:"level"`       // Level is debug, info, warn or error
	File       string `yaml:"file"`        // File is an optional rotated log file
	MaxSizeMB  int    `yaml:"max_size_mb"` // MaxSizeMB is the rotation size
	MaxBackups int    `yaml:"max_backups"` // MaxBackups is the number of rotated files kept
}

// GatewayConfig holds the gateway genesis settings.
type GatewayConfig struct {
	// DomainSeparator is the hex domain separator leaves must carry.
	DomainSeparator string `yaml:"domain_separator"`

	// PreviousVerifierSetRetention is how many epochs a verifier set stays usable.
	PreviousVerifierSetRetention uint64 `yaml:"previous_verifier_set_retention"`

	// MinimumRotationDelay is the cooldown between non-operator rotations.
	MinimumRotationDelay time.Duration `yaml:"minimum_rotation_delay"`

	// Operator may rotate without cooldown.
	Operator string `yaml:"operator"`

	// VerifierSets are verifier set files, oldest first. The last one is current.
	VerifierSets []string `yaml:"verifier_sets"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:  "./data",
		HTTPAddr: ":8080",
		QUICAddr: ":9000",
		KeyPath:  "./data/relay.key",
		Hash:     "keccak256",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Gateway: GatewayConfig{
			PreviousVerifierSetRetention: 4,
			MinimumRotationDelay:         24 * time.Hour,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown fields are rejected.
// Relative verifier set paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config:\n%w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s:\n%w", path, err)
	}

	dir := filepath.Dir(path)
	for i, p := range cfg.Gateway.VerifierSets {
		if !filepath.IsAbs(p) {
			cfg.Gateway.VerifierSets[i] = filepath.Join(dir, p)
		}
	}

	return cfg, nil
}

// Validate checks fields needed to run a server.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}

	if c.HTTPAddr == "" {
		return errors.New("http_addr is required")
	}

	if _, err := hasher.ByName(c.Hash); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// HashFunction returns the configured hash function.
func (c Config) HashFunction() (hasher.Function, error) {
	return hasher.ByName(c.Hash)
}

// LoggerOptions returns the logger settings.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// InitParams loads the verifier set files and builds the gateway genesis.
func (g GatewayConfig) InitParams(h hasher.Function) (gateway.InitParams, error) {
	if g.DomainSeparator == "" {
		return gateway.InitParams{}, errors.New("gateway.domain_separator is required")
	}

	domain, err := hasher.Parse(g.DomainSeparator)
	if err != nil {
		return gateway.InitParams{}, fmt.Errorf("gateway.domain_separator:\n%w", err)
	}

	if len(g.VerifierSets) == 0 {
		return gateway.InitParams{}, errors.New("gateway.verifier_sets is empty")
	}

	roots := make([]hasher.Hash, len(g.VerifierSets))
	for i, path := range g.VerifierSets {
		set, err := LoadVerifierSet(path, h, domain)
		if err != nil {
			return gateway.InitParams{}, err
		}
		roots[i] = set.Root()
	}

	return gateway.InitParams{
		DomainSeparator:              domain,
		PreviousVerifierSetRetention: g.PreviousVerifierSetRetention,
		MinimumRotationDelay:         g.MinimumRotationDelay,
		Operator:                     g.Operator,
		VerifierSets:                 roots,
	}, nil
}

// VerifierSetFile is the YAML description of a verifier set.
type VerifierSetFile struct {
	Nonce   uint64            `yaml:"nonce"`
	Quorum  weight.Weight     `yaml:"quorum"`
	Signers []verifier.Signer `yaml:"signers"`
}

// ParseVerifierSet decodes a verifier set description.
func ParseVerifierSet(data []byte) (VerifierSetFile, error) {
	var f VerifierSetFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil {
		return f, err
	}

	return f, nil
}

// Build creates the verifier set described by f.
func (f VerifierSetFile) Build(h hasher.Function, domainSeparator hasher.Hash) (*verifier.Set, error) {
	return verifier.New(h, f.Nonce, f.Signers, f.Quorum, domainSeparator)
}

// LoadVerifierSet reads and builds the verifier set in path.
func LoadVerifierSet(path string, h hasher.Function, domainSeparator hasher.Hash) (*verifier.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifier set:\n%w", err)
	}

	f, err := ParseVerifierSet(data)
	if err != nil {
		return nil, fmt.Errorf("parse verifier set %s:\n%w", path, err)
	}

	set, err := f.Build(h, domainSeparator)
	if err != nil {
		return nil, fmt.Errorf("build verifier set %s:\n%w", path, err)
	}

	return set, nil
}
