package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"photosort/internal/clip"
	"photosort/internal/config"
	"photosort/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded by PersistentPreRunE.
	cfg *config.Config

	// clipDeps builds the engine dependencies. Tests swap in a fake runtime.
	clipDeps = func(c *config.Config) clip.Deps {
		return clip.Deps{
			Runtime:       clip.NewORTRuntime(c.Clip.RuntimeLibrary),
			LoadTokenizer: clip.LoadTokenizer,
		}
	}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "photosort",
	Short: "photosort - classify photos into category folders",
	Long: `photosort classifies a folder of photos into eight categories and copies
each photo into a folder named after its category.

Two engines are available:
  - clip:   a local CLIP model run with ONNX Runtime (default)
  - ollama: a vision model served by Ollama

Every outcome is recorded in a SQLite database that the results commands read.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; real environment variables win.
		_ = godotenv.Load()

		if configPath == "" {
			configPath = config.DefaultPath()
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		if err := logging.Initialize(loaded.Logging.ToLogging()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.photosort/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(ollamaCmd)
	rootCmd.AddCommand(engineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
