package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args)
	stop()
	if err != nil {
		exitWithError(err)
	}
}

// exitWithError exits with the status mapped from the error kind. The error
// itself has already been logged.
func exitWithError(err error) {
	os.Exit(apperr.ExitCode(err))
}
