package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/spf13/cobra"

	"github.com/function61/snapshotd/pkg/snapingest"
	"github.com/function61/snapshotd/pkg/snapserver"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Debian snapshot archive replica and provenance query tool",
		Version: dynversion.Version,
	}

	rootCmd.AddCommand(snapingest.Entrypoint())
	rootCmd.AddCommand(snapserver.Entrypoint())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
