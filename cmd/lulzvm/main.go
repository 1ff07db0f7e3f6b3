// Command lulzvm loads a LulzVM executable and runs it to completion,
// wiring the guest's INPUT/OUTPUT events to stdin/stdout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/alopatindev/lulzvm/vm"
	"github.com/spf13/cobra"
)

func main() {
	var debug bool

	root := &cobra.Command{
		Use:   "lulzvm <executable>",
		Short: "Run a LulzVM bytecode executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], debug)
		},
		SilenceUsage: true,
	}
	root.Flags().BoolVarP(&debug, "debug", "d", false, "print a one-line load summary to stderr (no instruction tracing)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(path string, debug bool) error {
	executable, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read executable: %w", err)
	}

	var termFlag atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		termFlag.Store(true)
	}()
	defer signal.Stop(sigCh)

	m, err := vm.New(executable, os.Stdin, os.Stdout, &termFlag)
	if err != nil {
		return fmt.Errorf("load executable: %w", err)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "lulzvm: loaded %d bytes from %s\n", len(executable), path)
	}

	m.Run()
	return nil
}
