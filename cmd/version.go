package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/build"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the funsies version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(build.Version)
			return nil
		},
	}
}
