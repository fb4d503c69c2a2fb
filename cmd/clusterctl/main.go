package main

import (
	"log"

	"github.com/spf13/cobra"

	clustercli "github.com/rtcluster/coordinator/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "clusterctl",
		Short:         "cluster node management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	clustercli.AddAll(root)
	return root
}
