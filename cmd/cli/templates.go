package cli

import (
	"fmt"
	"strings"

	"github.com/inboxpilot/provisioner/internal/templates"

	"github.com/spf13/cobra"
)

func NewTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect workflow templates",
	}

	cmd.AddCommand(NewTemplatesListCommand())
	cmd.AddCommand(NewTemplatesValidateCommand())

	return cmd
}

func NewTemplatesListCommand() *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the templates in a catalog",
		Long:  `List the templates in a catalog. Without --manifest the built-in catalog is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := templates.LoadCatalogFromPath(manifest)
			if err != nil {
				return err
			}

			fmt.Println(headingStyle.Render("📋 Templates:"))
			for _, tpl := range catalog.List() {
				capabilities := make([]string, 0)
				for _, capability := range templates.RequiredCapabilities(tpl) {
					capabilities = append(capabilities, string(capability))
				}

				fmt.Printf("   • %s (%s)\n", tpl.Name, tpl.ID)
				fmt.Printf("     %s\n", mutedStyle.Render("needs: "+strings.Join(capabilities, ", ")))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to a templates.yaml manifest")

	return cmd
}

func NewTemplatesValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a template manifest and its workflow documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := ""
			label := "built-in catalog"
			if len(args) == 1 {
				manifest = args[0]
				label = manifest
			}

			catalog, err := templates.LoadCatalogFromPath(manifest)
			if err != nil {
				fmt.Println(failLine(label, err))
				return err
			}

			fmt.Println(okLine(fmt.Sprintf("%s: %d templates", label, len(catalog.List()))))
			return nil
		},
	}

	return cmd
}
