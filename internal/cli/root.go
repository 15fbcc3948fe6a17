// Package cli implements the hyperbridge operator commands.
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hyperbridge/internal/config"
	"hyperbridge/internal/settings"
	"hyperbridge/internal/storage"
	"hyperbridge/pkg/logx"
)

type rootOptions struct {
	configPath string
	driver     string
	path       string
	verbose    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "hyperbridge",
		Short: "Manage the notification-to-island bridge",
		Long: `hyperbridge edits the per-app settings the bridge daemon reads.

Settings are written straight to the daemon's store; a running daemon picks
them up on its next refresh.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./hyperbridge.yaml", "daemon config file (storage section is used)")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "storage driver, overrides the config file")
	root.PersistentFlags().StringVar(&opts.path, "path", "", "storage path, overrides the config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log storage activity to stderr")

	root.AddCommand(newSettingsCmd(opts))
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// storageConfig picks the store from flags, falling back to the daemon config.
func (o *rootOptions) storageConfig() (storage.Config, error) {
	if o.driver != "" {
		return storage.Config{Driver: strings.ToLower(o.driver), Path: o.path}, nil
	}
	cfg, err := config.NewManager(o.configPath, logx.Nop()).Parse()
	if err != nil {
		return storage.Config{}, fmt.Errorf("read %s: %w", o.configPath, err)
	}
	if cfg.Storage == nil {
		return storage.Config{}, errors.New("no storage configured; pass --driver and --path")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc := storage.Config{Driver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)), Path: cfg.Storage.Path, BusyTimeout: busy}
	if o.path != "" {
		sc.Path = o.path
	}
	return sc, nil
}

// open returns a settings service over the configured store and its closer.
func (o *rootOptions) open(cmd *cobra.Command) (*settings.Service, func(), error) {
	sc, err := o.storageConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logx.Nop()
	if o.verbose {
		log = logx.NewWriter(cmd.ErrOrStderr(), "debug")
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, storage.ErrDisabled
	}
	svc := settings.New(st, log, settings.WithActor("cli"))
	if err := svc.Refresh(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return svc, func() { _ = st.Close() }, nil
}
