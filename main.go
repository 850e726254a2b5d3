package main

import (
	"os"

	"rmakedrv/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
