package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a resource definition file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := "resources.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	registry, err := LoadResources(path)
	if err != nil {
		color.Red("✗ %s", path)
		return err
	}

	color.Green("✓ %s", path)
	for _, name := range registry.Names() {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
