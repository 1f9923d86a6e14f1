package cmd

import (
	"fmt"

	"github.com/aescanero/dago-wrap/internal/application/orchestrator"
	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/spf13/cobra"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Validate wrap manifests",
		Long:  `Parse and validate manifest files without building or running them.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator := orchestrator.NewValidator()

			failed := 0
			for _, path := range args {
				m, err := manifest.LoadFile(path)
				if err == nil {
					err = validator.Validate(m)
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %d controls)\n", path, m.Name, len(m.Controls))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d manifests are invalid", failed, len(args))
			}
			return nil
		},
	}
}
