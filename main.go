// The main package for the signac-index executable.
package main

import (
	"github.com/JakeFAU/signac-index/cmd"
)

func main() {
	cmd.Execute()
}
