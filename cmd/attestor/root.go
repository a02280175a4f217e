package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"Attestor/internal/config"
	"Attestor/internal/hasher"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string // configPath is the YAML config file, optional
	hash       string // hash overrides the config's hash function
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "attestor",
		Short:         "Threshold-signature verification gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.hash, "hash", "", "hash function (keccak256 or blake3)")

	root.AddCommand(
		newServeCmd(flags),
		newKeygenCmd(),
		newVerifierSetCmd(flags),
		newSignCmd(flags),
		newSubmitCmd(flags),
		newRotationPayloadCmd(flags),
		newSnapshotCmd(flags),
	)

	return root
}

// load reads the config file if one was given, then applies the shared overrides.
func (f *rootFlags) load() (config.Config, error) {
	cfg := config.Default()

	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	if f.hash != "" {
		cfg.Hash = f.hash
	}

	return cfg, nil
}

// hashFunction returns the configured hash function.
func (f *rootFlags) hashFunction() (hasher.Function, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}

	return cfg.HashFunction()
}

// domainSeparator returns the flag value, or the config's when empty.
func (f *rootFlags) domainSeparator(flag string) (hasher.Hash, error) {
	if flag == "" {
		cfg, err := f.load()
		if err != nil {
			return hasher.Hash{}, err
		}
		flag = cfg.Gateway.DomainSeparator
	}

	if flag == "" {
		return hasher.Hash{}, fmt.Errorf("domain separator required: set --domain or gateway.domain_separator")
	}

	return hasher.Parse(flag)
}
