package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

func newWaitCommand() *cobra.Command {
	var (
		state   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait <kind> <uuid>",
		Short: "Wait for a resource to reach a state",
		Long: `Wait until a stack, service, container or action reaches the given
state. The wait fails early when the resource reaches a state from which
the desired one can no longer be reached, e.g. Terminated while waiting
for Running.`,
		Example: `  # Wait for a stack to run
  dcloud wait stack 7eaf7fff-882c-4f3d-9a8f-a22317ac00ce --state Running

  # Give up after two minutes
  dcloud wait service 4e5c7e4b-f1b4-4a43-9ea8-3d4c8a2a9e3b --state Stopped --timeout 2m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := resource.ParseKind(args[0])
			if err != nil {
				return err
			}
			id, err := parseUUIDArg(args[1])
			if err != nil {
				return err
			}
			if state == "" {
				state = defaultState(kind).String()
			}

			s, err := openSession(cmd, sessionOptions{stream: true})
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			op := telemetry.StartOperation(ctx, "dcloud.wait",
				telemetry.AttrResourceKind.String(kind.String()),
				telemetry.AttrResourceUUID.String(id),
			)
			res, err := s.client.WaitForState(op.Ctx, kind, resource.Resource{"uuid": id}, resource.State(state))
			op.End(err)
			if err != nil {
				if errors.Is(err, convergence.ErrWaitTimeout) {
					return fmt.Errorf("%s %s did not reach %s within %s: %w", kind, id, state, timeout, err)
				}
				return err
			}
			return printState(cmd.OutOrStdout(), kind, res)
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "desired state (default Success for actions, Running otherwise)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "give up after this long (0 waits forever)")
	return cmd
}

func defaultState(kind resource.Kind) resource.State {
	if kind == resource.KindAction {
		return resource.StateSuccess
	}
	return resource.StateRunning
}
