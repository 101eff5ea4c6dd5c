package main

import (
	"github.com/BioHazard786/Tandem/internal/cli"
	"github.com/BioHazard786/Tandem/internal/logging"
)

func main() {
	logging.Init()
	cli.Execute()
}
