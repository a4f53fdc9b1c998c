package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"photosort/internal/classifier"
)

var ollamaCmd = &cobra.Command{
	Use:   "ollama",
	Short: "Check the Ollama server",
}

var ollamaTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the Ollama server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := classifier.NewOllamaClient(cfg).TestConnection(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.Success.Render(msg), cfg.Ollama.BaseURL)
		return nil
	},
}

var ollamaModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models installed on the Ollama server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		models, err := classifier.NewOllamaClient(cfg).ListModels(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range models {
			marker := "  "
			if m == cfg.Ollama.Model {
				marker = styles.Success.Render("* ")
			}
			fmt.Fprintln(out, marker+m)
		}
		return nil
	},
}

func init() {
	ollamaCmd.AddCommand(ollamaTestCmd)
	ollamaCmd.AddCommand(ollamaModelsCmd)
}

