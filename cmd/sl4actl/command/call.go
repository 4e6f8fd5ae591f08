package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type callCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	dismiss        bool
}

func newCallCommandeer(rootCommandeer *RootCommandeer) *callCommandeer {
	commandeer := &callCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "call method [json-arg ...]",
		Short: "Call a facade method and print its result",
		Long: `Call a facade method and print its result.

Each argument is parsed as JSON; an argument that is not valid JSON is sent as a string,
so "sl4actl call makeToast hello" and "sl4actl call makeToast '\"hello\"'" are equivalent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("Call requires a method name")
			}

			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			facadeClient, err := rootCommandeer.connect(ctx)
			if err != nil {
				return errors.Wrap(err, "Failed to connect")
			}

			result, err := facadeClient.Call(ctx, args[0], parseArguments(args[1:])...)
			if commandeer.dismiss {
				facadeClient.Dismiss(ctx) // nolint: errcheck
			} else {
				facadeClient.Close() // nolint: errcheck
			}

			if err != nil {
				return errors.Wrapf(err, "Failed to call %s", args[0])
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&commandeer.dismiss, "dismiss", "d", false, "Dismiss the facade session after the call")

	commandeer.cmd = cmd

	return commandeer
}

func parseArguments(args []string) []any {
	parsed := make([]any, 0, len(args))

	for _, arg := range args {
		var value any
		if err := json.Unmarshal([]byte(arg), &value); err != nil {
			parsed = append(parsed, arg)
			continue
		}

		parsed = append(parsed, json.RawMessage(arg))
	}

	return parsed
}
