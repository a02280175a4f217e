package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"Attestor/client"
	"Attestor/internal/gateway"
	"Attestor/internal/snapshot"
	"Attestor/internal/storage"
)

// newSnapshotCmd groups the snapshot export and import commands.
func newSnapshotCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the gateway state",
	}

	cmd.AddCommand(newSnapshotExportCmd(flags), newSnapshotImportCmd(flags))

	return cmd
}

// newSnapshotExportCmd writes a compressed snapshot from a local store or a running node.
func newSnapshotExportCmd(flags *rootFlags) *cobra.Command {
	var out, from string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compressed snapshot to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var data []byte
			var err error

			if from != "" {
				data, err = client.NewClient(from).Snapshot(cmd.Context())
			} else {
				data, err = exportLocal(flags)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, data, 0600); err != nil {
				return fmt.Errorf("write snapshot:\n%w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), out)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "snapshot.zst", "output file")
	cmd.Flags().StringVar(&from, "from", "", "HTTP address of a running node, the local store when empty")

	return cmd
}

// newSnapshotImportCmd replaces the local gateway state with a snapshot.
// The node must not be running.
func newSnapshotImportCmd(flags *rootFlags) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the local gateway state with a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			compressed, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read snapshot:\n%w", err)
			}

			data, err := snapshot.Decompress(compressed)
			if err != nil {
				return err
			}

			db, err := openLocal(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := snapshot.Apply(db, data, gateway.Prefixes())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(snap.Entries))

			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "snapshot.zst", "input file")

	return cmd
}

// exportLocal snapshots the store in the configured data directory.
func exportLocal(flags *rootFlags) ([]byte, error) {
	db, err := openLocal(flags)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	data, err := snapshot.Create(db, gateway.Prefixes())
	if err != nil {
		return nil, err
	}

	return snapshot.Compress(data)
}

// openLocal opens the store in the configured data directory.
func openLocal(flags *rootFlags) (*storage.Storage, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir:\n%w", err)
	}

	return storage.New(filepath.Join(cfg.DataDir, "db"))
}
