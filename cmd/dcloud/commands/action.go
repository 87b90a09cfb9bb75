package commands

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newActionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Inspect and wait for actions",
		Long: `Actions track the asynchronous work Docker Cloud performs for a
mutation. Every start, stop, redeploy and terminate returns one.`,
	}

	cmd.AddCommand(newActionListCommand())
	cmd.AddCommand(newActionInspectCommand())
	cmd.AddCommand(newActionWaitCommand())
	cmd.AddCommand(newActionCancelCommand())

	return cmd
}

func parseUUIDArg(arg string) (string, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid uuid %q: %w", arg, err)
	}
	return id.String(), nil
}

func newActionListCommand() *cobra.Command {
	var (
		limit int
		state string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recent actions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			query := url.Values{"limit": {strconv.Itoa(limit)}}
			if state != "" {
				query.Set("state", state)
			}
			list, err := s.client.Actions.List(cmd.Context(), query)
			if err != nil {
				return err
			}
			if len(list) > limit {
				list = list[:limit]
			}
			return printResources(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "maximum number of actions")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func newActionInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <uuid>",
		Short: "Show an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			action, err := s.client.Actions.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printResource(cmd.OutOrStdout(), action)
		},
	}
}

func newActionWaitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wait <uuid|action-uri>",
		Short: "Wait for an action to succeed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{stream: true})
			if err != nil {
				return err
			}
			defer s.close()

			ref := args[0]
			if _, err := uuid.Parse(ref); err == nil {
				ref = "/api/audit/v1/action/" + ref + "/"
			}
			action, err := s.client.Actions.Resolve(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), action)
		},
	}
}

func newActionCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <uuid>",
		Short: "Cancel a pending or running action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			action, err := s.client.Actions.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), action)
		},
	}
}
