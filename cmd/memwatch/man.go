package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func newManCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "man DIR",
		Short: "Write man pages to DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := args[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			header := &doc.GenManHeader{Title: "MEMWATCH", Section: "1", Source: "memwatch"}
			if err := doc.GenManTree(root, header, dir); err != nil {
				return fmt.Errorf("generating man pages in %s: %w", dir, err)
			}
			return nil
		},
	}
}
