package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:   "afaqbot",
		Short: "Afaq Stores conversational shop assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the relay server and channel listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
