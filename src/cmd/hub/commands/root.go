package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for the hub
var RootCmd = &cobra.Command{
	Use:              "hub",
	Short:            "message replication hub",
	TraverseChildren: true,
}
