package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Refresh(ctx context.Context) error
	Open(ctx context.Context, view string) error
	Get(ctx context.Context, path string) error
	Passwd(ctx context.Context) error
	Forgot(ctx context.Context) error
	Reset(ctx context.Context, token string) error
}

// runREPL reads commands line by line from reader and dispatches them to a.
// The loop exits on EOF or when the user types "exit" or "quit".
//
//	Not logged in:
//	  help, register, login, forgot, reset <token>, open <view>, exit | quit
//
//	Logged in:
//	  help, whoami, refresh, open <view>, get <api-path>, passwd, logout,
//	  exit | quit
//
// Errors returned by command handlers are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("classdesk %s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, refresh, open <view>, get <api-path>, passwd, logout, exit")
			} else {
				printlnFn("Available commands: register, login, forgot, reset <token>, open <view>, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "logout":
			err = a.Logout(ctx)

		case "whoami":
			err = a.WhoAmI(ctx)

		case "refresh":
			err = a.Refresh(ctx)

		case "open":
			if len(args) == 0 {
				printlnFn("Usage: open <view>")
				continue
			}
			err = a.Open(ctx, args[0])

		case "get":
			if len(args) == 0 {
				printlnFn("Usage: get <api-path>")
				continue
			}
			err = a.Get(ctx, args[0])

		case "passwd":
			err = a.Passwd(ctx)

		case "forgot":
			err = a.Forgot(ctx)

		case "reset":
			if len(args) == 0 {
				printlnFn("Usage: reset <token>")
				continue
			}
			err = a.Reset(ctx, args[0])

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", errorText(err))
		}
	}
}
