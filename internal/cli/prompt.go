package cli

import (
	"fmt"
	"time"

	"github.com/harun/scribe/pkg/prompt"
	"github.com/spf13/cobra"
)

func newPromptCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system prompt agents are seeded with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
				}
				day = parsed
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt.BuildSystemPrompt(day))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to render, as YYYY-MM-DD (default today)")
	return cmd
}
