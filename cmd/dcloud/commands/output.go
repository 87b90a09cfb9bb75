package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/stores"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResource prints a single resource. Text output is the full body for
// inspect-like commands since Docker Cloud bodies vary per kind.
func printResource(w io.Writer, res resource.Resource) error {
	if res == nil {
		_, err := fmt.Fprintln(w, "<none>")
		return err
	}
	return writeJSON(w, res)
}

func printResources(w io.Writer, list []resource.Resource) error {
	if jsonOutput {
		return writeJSON(w, list)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "UUID\tNAME\tSTATE")
	for _, res := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.UUID(), res.Name(), res.State())
	}
	return tw.Flush()
}

// printAction reports the action started by a mutation.
func printAction(w io.Writer, action resource.Resource) error {
	if jsonOutput {
		return writeJSON(w, action)
	}
	if action == nil {
		_, err := fmt.Fprintln(w, "Nothing to do")
		return err
	}
	_, err := fmt.Fprintf(w, "Action %s %s (%s)\n", action.UUID(), action.String("action"), action.State())
	return err
}

func printState(w io.Writer, kind resource.Kind, res resource.Resource) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "%s %s is %s\n", kind, res.UUID(), res.State())
	return err
}

func printEvent(w io.Writer, ev events.Event) error {
	if jsonOutput {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Datetime, ev.Type, ev.State, ev.ResourceURI)
	return err
}

func printWaits(w io.Writer, waits []convergence.WaitRecord) error {
	if jsonOutput {
		return writeJSON(w, waits)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "STARTED\tKIND\tUUID\tDESIRED\tRESOLVED BY\tSTATE\tDURATION\tERROR")
	for _, rec := range waits {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.StartedAt.Format(time.RFC3339),
			rec.Kind,
			rec.UUID,
			rec.Desired,
			rec.Path,
			rec.State,
			rec.Duration.Round(time.Millisecond),
			rec.Error,
		)
	}
	return tw.Flush()
}

func printEventEntries(w io.Writer, entries []*stores.EventEntry) error {
	if jsonOutput {
		return writeJSON(w, entries)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RECEIVED\tTYPE\tSTATE\tACTION\tRESOURCE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ReceivedAt.Format(time.RFC3339),
			e.Event.Type,
			e.Event.State,
			e.Event.Action,
			e.Event.ResourceURI,
		)
	}
	return tw.Flush()
}
