package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/commands"
)

func main() {
	err := commands.Execute()
	if err == nil {
		return
	}

	code := 1
	var exitErr *commands.ExitCodeError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		if exitErr.Err == nil {
			os.Exit(code)
		}
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}
