// Command msirepo mirrors MSI and MSM catalogs and publishes them.
package main

import (
	"context"
	"os"

	"github.com/trly/msirepo/cmd"
)

func main() {
	if err := cmd.NewRootCommand().GetCobraCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
