package main

import (
	"os"

	"github.com/zhengshuai-xiao/DSync/cmd"
	"github.com/zhengshuai-xiao/DSync/internal"
)

var logger = internal.GetLogger("dsync_main")

func main() {
	err := cmd.Main(os.Args)
	if err != nil {
		logger.Fatal(err)
	}
}
