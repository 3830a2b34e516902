package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "delver", Short: "Iterative deep-research agent"}

	root.AddCommand(researchCMD(), serveCMD(), migrateCMD(), askCMD(), tokenCMD())
	_ = root.Execute()
}
