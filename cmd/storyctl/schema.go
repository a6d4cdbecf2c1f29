// cmd/storyctl/schema.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/sumanurawat/storyboarder/internal/models"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the assistant reply envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), models.ReplySchema())
		},
	}
}
