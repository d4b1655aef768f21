/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xebook/readium-encrypt/internal/conf"
	"github.com/xebook/readium-encrypt/internal/tui"
)

// configureCmd represents the configure command
var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactively write the readium-encrypt configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(tui.InitialModel(
			cfg.Tool.Path,
			cfg.LicenseServer.Endpoint,
			cfg.LicenseServer.Username,
			cfg.LicenseServer.Password,
			cfg.LicenseServer.Profile,
			cfg.S3.Bucket,
			cfg.AMQP.DSN,
		))
		m, err := p.Run()
		if err != nil {
			return fmt.Errorf("the tea is rotten: %w", err)
		}
		// Assert the final tea.Model to our local model and print the choice.
		model, ok := m.(tui.Model)
		if !ok {
			return fmt.Errorf("can't assert tui model")
		}
		if model.Quit {
			fmt.Fprintln(cmd.OutOrStdout(), "Not saving configuration...")
			return nil
		}

		applyForm(cfg, model)

		path := cfgFile
		if path == "" {
			dir, err := conf.DefaultDir()
			if err != nil {
				return err
			}
			path = filepath.Join(dir, "config.yaml")
		}
		if err := writeConfig(path, cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Config saved!", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func applyForm(c *conf.Config, m tui.Model) {
	c.Tool.Path = m.Value(tui.ToolPath)
	c.LicenseServer.Endpoint = m.Value(tui.LicenseServerEndpoint)
	c.LicenseServer.Username = m.Value(tui.LicenseServerUsername)
	c.LicenseServer.Password = m.Value(tui.LicenseServerPassword)
	if profile := m.Value(tui.LicenseServerProfile); profile != "" {
		c.LicenseServer.Profile = profile
	}
	c.S3.Bucket = m.Value(tui.S3Bucket)
	c.AMQP.DSN = m.Value(tui.AMQPDSN)
}

// writeConfig stores c as yaml. The file holds credentials so it is only
// readable by the owner.
func writeConfig(path string, c *conf.Config) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("could not marshal configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
