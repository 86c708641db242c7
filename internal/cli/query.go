package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"threatfeed/internal/adapter/httpapi"
	"threatfeed/internal/usecase"
)

var (
	queryText     string
	queryTopK     int
	queryTimeout  time.Duration
	queryEndpoint string
	queryJSON     bool
	queryPrompt   bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve report context from a running server",
	Long: `Ask a running threatfeed server for the reports most similar to a
question and print them as numbered context with sources. An unreachable
or slow server yields NO SIGNAL rather than an error.

Examples:
  threatfeed query -q "kernel heap exploit"
  threatfeed query -q "ssh bypass" -k 5 --json
  threatfeed query -q "uefi rootkit" --prompt`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question text (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of reports (default from config)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "request timeout (default from config)")
	queryCmd.Flags().StringVar(&queryEndpoint, "endpoint", "", "retrieve URL (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryPrompt, "prompt", false, "print a generation prompt instead of the context")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	endpoint := cfg.Retrieve.Endpoint
	if queryEndpoint != "" {
		endpoint = queryEndpoint
	}
	timeout := cfg.Retrieve.Timeout
	if queryTimeout > 0 {
		timeout = queryTimeout
	}

	client := httpapi.NewClient(endpoint, timeout)
	results := client.RetrieveOrEmpty(cmd.Context(), queryText, queryTopK)
	packed := usecase.NewPackUseCase(usecase.DefaultExcerptChars).Pack(queryText, results)

	switch {
	case queryJSON:
		output, err := json.MarshalIndent(packed, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(output))
	case queryPrompt:
		fmt.Println(usecase.Prompt(packed))
	default:
		fmt.Println(packed.Context)
		if len(packed.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, s := range packed.Sources {
				fmt.Println(s)
			}
		}
	}
	return nil
}
