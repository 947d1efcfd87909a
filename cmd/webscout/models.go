package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"webscout/internal/llm"
)

// modelsCmd lists the models the configured backend is serving.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the inference backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := llm.New(llm.Config{
			Backend: cfg.LLM.Backend,
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.GetLLMTimeout(),
		})
		if err != nil {
			return err
		}

		models, err := backend.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list models from %s: %w", backend.Name(), err)
		}
		if len(models) == 0 {
			fmt.Println("No models available.")
			return nil
		}
		for _, m := range models {
			marker := "  "
			if m == cfg.LLM.Model {
				marker = "* "
			}
			fmt.Println(marker + m)
		}
		return nil
	},
}
