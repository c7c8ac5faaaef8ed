package main

import (
	"fmt"
	"log/slog"
	"os"

	config "github.com/drummonds/piconverter/config"
	engine "github.com/drummonds/piconverter/engine"
	"github.com/drummonds/piconverter/queue"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	queue.Logger = Logger
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
