package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HsiangNianian/uiabridge/internal/logger"
)

const (
	errCommand = 1
)

func main() {
	log := logger.New("uiabridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd(log).ExecuteContext(ctx)
	log.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(errCommand)
	}
}
