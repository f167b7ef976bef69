package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	if svc != nil {
		svc.Close()
	}
	logger.Sync()
	stop()

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes the human explanation of err. Rejections carry their own
// details and remediation lines.
func printError(w io.Writer, err error) {
	var rejection *admission.Error
	if errors.As(err, &rejection) {
		fmt.Fprint(w, rejection.Report())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
