package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		kind       string
		id         string
		limit      int
		showEvents bool
		since      time.Duration
		prune      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled waits and events",
		Long: `Show the local journal: every finished wait with how it was resolved
(fast, push, poll, incompatible, poll_failed, timeout or canceled), and
the events recorded with 'dcloud events --record'.`,
		Example: `  # Last waits
  dcloud history

  # Waits on one stack
  dcloud history --kind stack --uuid 7eaf7fff-882c-4f3d-9a8f-a22317ac00ce

  # Events recorded in the last hour
  dcloud history --events --since 1h

  # Drop everything older than a week
  dcloud history --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				if _, err := resource.ParseKind(kind); err != nil {
					return err
				}
			}

			s, err := openSession(cmd, sessionOptions{journal: true, offline: true})
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if prune > 0 {
				removed, err := s.store.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", removed)
				return err
			}

			if showEvents {
				filter := stores.EventFilter{Type: kind, Limit: limit}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}
				entries, err := s.store.ListEvents(ctx, filter)
				if err != nil {
					return err
				}
				return printEventEntries(cmd.OutOrStdout(), entries)
			}

			waits, err := s.store.ListWaits(ctx, stores.WaitFilter{Kind: kind, UUID: id, Limit: limit})
			if err != nil {
				return err
			}
			return printWaits(cmd.OutOrStdout(), waits)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only this resource kind")
	cmd.Flags().StringVar(&id, "uuid", "", "only waits on this resource")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&showEvents, "events", false, "show recorded events instead of waits")
	cmd.Flags().DurationVar(&since, "since", 0, "only events received within this duration")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete entries older than this duration")
	return cmd
}
