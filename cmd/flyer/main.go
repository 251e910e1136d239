// Command flyer renders editor drafts onto PDF templates.
//
//	flyer render -t template.pdf -d draft.json -o out.pdf [--context ctx.json] [-c config.yaml]
//	flyer inspect -t template.pdf [-d draft.json]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"
)

// Version is set at build time via ldflags.
var Version = "dev"

// environment holds the process dependencies commands write to.
type environment struct {
	stdout io.Writer
	stderr io.Writer
}

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], &environment{stdout: os.Stdout, stderr: os.Stderr})
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, env *environment) int {
	if len(args) == 0 {
		usage(env.stderr)
		return ExitUsage
	}
	var err error
	switch args[0] {
	case "render":
		err = runRender(ctx, args[1:], env)
	case "inspect":
		err = runInspect(ctx, args[1:], env)
	case "version":
		fmt.Fprintf(env.stdout, "flyer %s\n", Version)
	case "help", "-h", "--help":
		usage(env.stdout)
	default:
		usage(env.stderr)
		err = fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if err != nil {
		fmt.Fprintf(env.stderr, "flyer: %v\n", err)
	}
	return exitCodeFor(err)
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: flyer <command> [flags]

Commands:
  render    composite a draft onto a template
  inspect   print template pages and draft findings
  version   print the version

Exit codes:
  0 success, 1 general error, 2 usage or config, 3 file access, 4 unusable input
`)
}
