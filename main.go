package main

import (
	"context"

	"github.com/spf13/cobra"

	"go-mixer/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
