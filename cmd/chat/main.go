package main

import (
	"chat-sync/errors"
	stderrors "errors"
	"fmt"
	"os"
)

// Exit codes of the chat command.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if stderrors.Is(err, errors.ErrInvalidConfig) {
			return exitConfig, err
		}
		return exitRuntime, err
	}
	return exitOK, nil
}
