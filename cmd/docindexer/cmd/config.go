package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/serhiybutz/docindexer/configs"
	"github.com/serhiybutz/docindexer/internal/config"
	"github.com/serhiybutz/docindexer/internal/output"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage the project and user configuration files.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/docindexer/config.yaml)
  3. Project config (.docindexer.yaml)
  4. Environment variables (DOCINDEXER_*)`,
		Example: `  # Create .docindexer.yaml in the current directory
  docindexer config init

  # Show the effective configuration
  docindexer config show

  # Undo the last config init --force
  docindexer config restore`,
	}

	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))
	cmd.AddCommand(newConfigRestoreCmd(a))

	return cmd
}

// configTarget returns the project config path, or the user config path when
// user is set.
func (a *app) configTarget(user bool) (string, error) {
	if user {
		return config.GetUserConfigPath(), nil
	}
	if a.configPath != "" {
		return a.configPath, nil
	}
	dir, err := a.projectDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ProjectConfigName), nil
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a configuration file from the template",
		Annotations: map[string]string{skipSetup: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path, err := a.configTarget(user)
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists: %s", path)
					out.Status("", "Use --force to replace it (a backup is kept)")
					return nil
				}
				backup, err := config.Backup(path)
				if err != nil {
					return fmt.Errorf("failed to backup config: %w", err)
				}
				out.Statusf("-", "Backup: %s", backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		defaults   bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if defaults {
				cfg = config.NewConfig()
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the built-in defaults only")

	return cmd
}

func newConfigPathCmd(a *app) *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:         "path",
		Short:       "Print the configuration file path",
		Annotations: map[string]string{skipSetup: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configTarget(user)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Print the user config path")

	return cmd
}

func newConfigRestoreCmd(a *app) *cobra.Command {
	var (
		user bool
		list bool
	)

	cmd := &cobra.Command{
		Use:         "restore [backup]",
		Short:       "Restore a configuration backup",
		Long:        `Restores the given backup, or the newest one. The current file is backed up first.`,
		Annotations: map[string]string{skipSetup: "true"},
		Args:        cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			path, err := a.configTarget(user)
			if err != nil {
				return err
			}

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			var backup string
			switch {
			case len(args) == 1:
				backup = args[0]
			case len(backups) > 0:
				backup = backups[0]
			default:
				return fmt.Errorf("no backups found for %s", path)
			}

			if err := config.Restore(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, backup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config")
	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")

	return cmd
}
