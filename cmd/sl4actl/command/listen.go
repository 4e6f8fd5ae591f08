package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"sl4a-rpc/rpcerror"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type listenCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	count          int
	timeout        time.Duration
	startMethod    string
}

func newListenCommandeer(rootCommandeer *RootCommandeer) *listenCommandeer {
	commandeer := &listenCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "listen event",
		Short: "Register a callback for an event and print every invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("Listen requires an event name")
			}

			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if commandeer.timeout > 0 {
				var timeoutCancel context.CancelFunc
				ctx, timeoutCancel = context.WithTimeout(ctx, commandeer.timeout)
				defer timeoutCancel()
			}

			facadeClient, err := rootCommandeer.connect(ctx)
			if err != nil {
				return errors.Wrap(err, "Failed to connect")
			}
			defer facadeClient.Close() // nolint: errcheck

			received := 0
			if _, err := facadeClient.RegisterCallback(ctx, args[0], func(data json.RawMessage) {
				received++
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}); err != nil {
				return errors.Wrapf(err, "Failed to register callback for %s", args[0])
			}

			// some facades only start producing events once asked to
			if commandeer.startMethod != "" {
				if _, err := facadeClient.Call(ctx, commandeer.startMethod); err != nil {
					return errors.Wrapf(err, "Failed to call %s", commandeer.startMethod)
				}
			}

			for commandeer.count == 0 || received < commandeer.count {
				if err := facadeClient.WaitForCallback(ctx); err != nil {

					// interrupted or timed out while waiting is a normal way out
					if rpcerror.IsTimeoutError(err) && ctx.Err() != nil {
						rootCommandeer.loggerInstance.DebugWith("Stopped listening", "received", received)
						return nil
					}

					if rpcerror.IsInvalidCallbackIDError(err) {
						rootCommandeer.loggerInstance.WarnWith("Ignoring callback", "err", err.Error())
						continue
					}

					return errors.Wrap(err, "Failed waiting for callback")
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&commandeer.count, "count", "n", 0, "Stop after this many invocations (0 - never)")
	cmd.Flags().DurationVarP(&commandeer.timeout, "timeout", "t", 0, "Stop after this long (0 - never)")
	cmd.Flags().StringVarP(&commandeer.startMethod, "start", "s", "", "Method to call once the callback is registered")

	commandeer.cmd = cmd

	return commandeer
}
