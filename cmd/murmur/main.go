package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes: 1 for usage and daemon errors, 2 when a message was reported
// as undelivered.
const exitUndelivered = 2

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	switch {
	case err == nil:
		return
	case errors.Is(err, errSendFailed):
		os.Exit(exitUndelivered)
	case !errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
