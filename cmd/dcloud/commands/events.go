package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"
)

func newEventsCommand() *cobra.Command {
	var (
		record bool
		kinds  []string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the audit event stream",
		Long: `Print every event pushed by the Docker Cloud audit stream until
interrupted. With --record each event is also written to the journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noStream {
				return errors.New("events needs the event stream, drop --no-stream")
			}
			filter := map[resource.Kind]bool{}
			for _, k := range kinds {
				kind, err := resource.ParseKind(k)
				if err != nil {
					return err
				}
				filter[kind] = true
			}

			s, err := openSession(cmd, sessionOptions{journal: record})
			if err != nil {
				return err
			}
			defer s.close()
			if !s.cfg.Stream.Enabled {
				return errors.New("the event stream is disabled in the config")
			}

			out := make(chan events.Event, 64)
			id := s.client.Subscribe(func(ev events.Event) {
				if len(filter) > 0 && !filter[ev.Type] {
					return
				}
				select {
				case out <- ev:
				default:
					s.logger.Warn().Str("resource_uri", ev.ResourceURI).Msg("Output is falling behind, dropping event")
				}
			})
			defer s.client.Unsubscribe(id)

			if record && !s.cfg.Journal.RecordEvents {
				rid := s.client.Subscribe(s.events.Handle)
				defer s.client.Unsubscribe(rid)
			}

			ctx := cmd.Context()
			if err := s.client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to the event stream: %w", err)
			}

			for {
				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case ev := <-out:
					if err := printEvent(cmd.OutOrStdout(), ev); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "write events to the journal")
	cmd.Flags().StringSliceVarP(&kinds, "type", "t", nil, "only show events for these kinds")
	return cmd
}
