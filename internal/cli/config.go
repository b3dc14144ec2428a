// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/mmchat/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Args:        exactArgs(0, "mmchat config init"),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return usageErrorf("mmchat config init --force", "%s already exists", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			a.printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  exactArgs(0, "mmchat config show"),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(a.out, a.cfg.String())
				return nil
			},
		},
		initCmd,
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value, e.g. sync.policy",
			Args:  exactArgs(1, "mmchat config get backend.base_url"),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return usageErrorf("mmchat config get sync.policy", "%v", err)
				}
				if strings.EqualFold(args[0], "backend.token") && v != "" {
					v = "[REDACTED]"
				}
				if a.jsonMode {
					return a.printJSON(map[string]any{"key": args[0], "value": v})
				}
				a.printf("%v\n", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set one value in the config file",
			Args:  exactArgs(2, "mmchat config set sync.policy merge"),
			RunE: func(cmd *cobra.Command, args []string) error {
				err := a.editConfig(func(cfg *config.Config) error {
					if err := cfg.Set(args[0], args[1]); err != nil {
						return usageErrorf("mmchat config set sync.policy merge", "%v", err)
					}
					return nil
				})
				if err != nil {
					return err
				}
				a.printf("%s = %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  exactArgs(0, "mmchat config path"),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.configFile()
				if err != nil {
					return err
				}
				a.printf("%s\n", path)
				return nil
			},
		},
	)
	return cmd
}

// configFile is the file editConfig writes.
func (a *app) configFile() (string, error) {
	if a.cfgPath != "" {
		if strings.HasSuffix(a.cfgPath, ".json") {
			return "", usageErrorf("mmchat --config config.toml config set ...", "JSON config files are read-only; convert %s to TOML", a.cfgPath)
		}
		return a.cfgPath, nil
	}
	return config.ConfigPathTOML()
}

// editConfig applies fn to the config file as stored on disk, without
// environment or flag overrides, and writes it back. The in-memory config
// gets the same change.
func (a *app) editConfig(fn func(cfg *config.Config) error) error {
	path, err := a.configFile()
	if err != nil {
		return err
	}
	stored := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(stored, path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := fn(stored); err != nil {
		return err
	}
	stored.SetDefaults()
	if err := stored.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(stored, path); err != nil {
		return err
	}
	if a.cfg != nil {
		return fn(a.cfg)
	}
	return nil
}
