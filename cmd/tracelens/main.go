package main

import (
	"os"

	"github.com/armadaproject/tracelens/cmd/tracelens/cmd"
	"github.com/armadaproject/tracelens/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
