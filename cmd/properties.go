package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/adamdsmith/fwspp/internal/model"
)

var propertiesKind string

var propertiesCmd = &cobra.Command{
	Use:   "properties",
	Short: "List property names in a boundary dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, err := model.ParseBoundaryKind(propertiesKind)
		if err != nil {
			return err
		}
		cfg.Run.BoundaryKind = string(kind)
		if err := cfg.Validate("properties"); err != nil {
			return err
		}

		names, err := newBoundaries(cfg).Names(kind)
		if err != nil {
			return eris.Wrap(err, "list properties")
		}
		for _, n := range names {
			fmt.Fprintln(os.Stdout, n)
		}
		fmt.Fprintf(os.Stderr, "%d properties\n", len(names))
		return nil
	},
}

func init() {
	propertiesCmd.Flags().StringVar(&propertiesKind, "kind", "admin", "boundary kind: admin or acquisition")
	rootCmd.AddCommand(propertiesCmd)
}
