package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the configuration",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key=value]...",
	Short: "Change settings and save them",
	Long: `Assigns dotted keys, normalizes the result and saves it.

Concurrency is clamped to the number of cores and streaming is turned off when
more than one photo is classified at a time.

Example:
  photosort settings set analysis.engine=ollama ollama.model=llava:13b`,
	Args: cobra.MinimumNArgs(1),
	RunE: settingsSet,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), configPath)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}

func settingsSet(cmd *cobra.Command, args []string) error {
	next := *cfg
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		if err := next.Set(key, value); err != nil {
			return err
		}
	}
	next.Normalize(runtime.NumCPU())
	if err := next.Validate(); err != nil {
		return err
	}
	if err := next.Save(configPath); err != nil {
		return err
	}
	*cfg = next
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.Success.Render("saved"), configPath)
	return nil
}
