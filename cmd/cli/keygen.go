package cli

import (
	"fmt"

	"github.com/inboxpilot/provisioner/internal/crypto"

	"github.com/spf13/cobra"
)

func NewKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a TOKEN_ENCRYPTION_KEY for sealing stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}

			fmt.Println(key)
			return nil
		},
	}

	return cmd
}
