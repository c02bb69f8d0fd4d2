// Command typegen parses Go struct definitions and generates the TypeScript
// interfaces a browser front end needs to speak the websocket protocol and
// edit settings.json. Run from the project root:
//
//	go run ./cmd/typegen --out ui/src/types/generated.ts
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func main() {
	var outPath string
	cmd := &cobra.Command{
		Use:          "typegen",
		Short:        "Generate TypeScript types for the websocket protocol and settings",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getwd: %w", err)
			}
			out, err := newGenerator(defaultTargets()).Generate(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			absOut := outPath
			if !filepath.IsAbs(absOut) {
				absOut = filepath.Join(root, absOut)
			}
			if err := os.MkdirAll(filepath.Dir(absOut), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}
			if err := os.WriteFile(absOut, out, 0o644); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", absOut, len(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "ui/src/types/generated.ts", "output TypeScript file path")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
