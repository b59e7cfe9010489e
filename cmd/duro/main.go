package main

import (
	"os"

	"github.com/lazypower/duro/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
