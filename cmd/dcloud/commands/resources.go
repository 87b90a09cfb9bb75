package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/dockercloud/pkg/dockercloud"
	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// resourceOps is the REST surface shared by stacks, services and
// containers.
type resourceOps interface {
	Get(ctx context.Context, uuid string) (resource.Resource, error)
	List(ctx context.Context, query url.Values) ([]resource.Resource, error)
	Create(ctx context.Context, props any) (resource.Resource, error)
	Update(ctx context.Context, uuid string, props any) (resource.Resource, error)
	Remove(ctx context.Context, res resource.Resource) (resource.Resource, error)
	Start(ctx context.Context, uuid string) (resource.Resource, error)
	Stop(ctx context.Context, uuid string) (resource.Resource, error)
	Redeploy(ctx context.Context, uuid string) (resource.Resource, error)
}

type nameFinder interface {
	FindByName(ctx context.Context, name string) (resource.Resource, error)
}

// kindCommand describes one resource kind for the command builder.
type kindCommand struct {
	kind resource.Kind
	// ops picks the kind's client from a connected session.
	ops func(c *dockercloud.Client) resourceOps
	// creatable kinds get create and update subcommands.
	creatable bool
}

func newStackCommand() *cobra.Command {
	k := kindCommand{
		kind:      resource.KindStack,
		ops:       func(c *dockercloud.Client) resourceOps { return c.Stacks },
		creatable: true,
	}
	cmd := k.command("Manage stacks")
	cmd.AddCommand(k.childrenCommand("services", "List the services of a stack",
		func(ctx context.Context, c *dockercloud.Client, parent resource.Resource) ([]resource.Resource, error) {
			return c.Stacks.Services(ctx, parent)
		}))
	return cmd
}

func newServiceCommand() *cobra.Command {
	k := kindCommand{
		kind:      resource.KindService,
		ops:       func(c *dockercloud.Client) resourceOps { return c.Services },
		creatable: true,
	}
	cmd := k.command("Manage services")
	cmd.AddCommand(k.childrenCommand("containers", "List the containers of a service",
		func(ctx context.Context, c *dockercloud.Client, parent resource.Resource) ([]resource.Resource, error) {
			return c.Services.Containers(ctx, parent)
		}))
	return cmd
}

func newContainerCommand() *cobra.Command {
	k := kindCommand{
		kind: resource.KindContainer,
		ops:  func(c *dockercloud.Client) resourceOps { return c.Containers },
	}
	return k.command("Manage containers")
}

func (k kindCommand) command(short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   k.kind.String(),
		Short: short,
	}

	cmd.AddCommand(k.listCommand())
	cmd.AddCommand(k.inspectCommand())
	if k.creatable {
		cmd.AddCommand(k.createCommand())
		cmd.AddCommand(k.updateCommand())
	}
	cmd.AddCommand(k.lifecycleCommand("start", "Start", resourceOps.Start, resource.StateRunning))
	cmd.AddCommand(k.lifecycleCommand("stop", "Stop", resourceOps.Stop, resource.StateStopped))
	cmd.AddCommand(k.lifecycleCommand("redeploy", "Redeploy", resourceOps.Redeploy, resource.StateRunning))
	cmd.AddCommand(k.removeCommand())

	return cmd
}

// resolve accepts a uuid or, for kinds that support it, a name.
func (k kindCommand) resolve(ctx context.Context, ops resourceOps, ref string) (resource.Resource, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return ops.Get(ctx, ref)
	}
	finder, ok := ops.(nameFinder)
	if !ok {
		return nil, fmt.Errorf("invalid %s uuid %q", k.kind, ref)
	}
	res, err := finder.FindByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no live %s named %q", k.kind, ref)
	}
	return res, nil
}

func (k kindCommand) listCommand() *cobra.Command {
	var (
		name  string
		state string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   fmt.Sprintf("List %ss", k.kind),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			query := url.Values{}
			if name != "" {
				query.Set("name", name)
			}
			if state != "" {
				query.Set("state", state)
			}
			list, err := k.ops(s.client).List(cmd.Context(), query)
			if err != nil {
				return err
			}
			return printResources(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "filter by name")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func (k kindCommand) inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <uuid|name>",
		Short: fmt.Sprintf("Show a %s", k.kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			res, err := k.resolve(cmd.Context(), k.ops(s.client), args[0])
			if err != nil {
				return err
			}
			return printResource(cmd.OutOrStdout(), res)
		},
	}
}

func (k kindCommand) createCommand() *cobra.Command {
	var (
		file string
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: fmt.Sprintf("Create a %s", k.kind),
		Example: fmt.Sprintf(`  # Create from a YAML or JSON body
  dcloud %[1]s create --file %[1]s.yaml

  # Create with inline properties
  dcloud %[1]s create --set name=web --set image=nginx`, k.kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := readProps(file, sets)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			res, err := k.ops(s.client).Create(cmd.Context(), props)
			if err != nil {
				return err
			}
			return printResource(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the request body")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a top-level property (key=value)")
	return cmd
}

func (k kindCommand) updateCommand() *cobra.Command {
	var (
		file string
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "update <uuid|name>",
		Short: fmt.Sprintf("Update a %s", k.kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := readProps(file, sets)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			ops := k.ops(s.client)
			target, err := k.resolve(cmd.Context(), ops, args[0])
			if err != nil {
				return err
			}
			res, err := ops.Update(cmd.Context(), target.UUID(), props)
			if err != nil {
				return err
			}
			return printResource(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with the request body")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a top-level property (key=value)")
	return cmd
}

type mutation func(ops resourceOps, ctx context.Context, uuid string) (resource.Resource, error)

func (k kindCommand) lifecycleCommand(use, verb string, mutate mutation, settled resource.State) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   use + " <uuid|name>",
		Short: fmt.Sprintf("%s a %s", verb, k.kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{stream: wait})
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			ops := k.ops(s.client)
			target, err := k.resolve(ctx, ops, args[0])
			if err != nil {
				return err
			}
			action, err := mutate(ops, ctx, target.UUID())
			if err != nil {
				return err
			}
			if !wait {
				return printAction(cmd.OutOrStdout(), action)
			}
			return s.settle(cmd, k.kind, target, action, settled)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, fmt.Sprintf("wait until the %s is %s", k.kind, settled))
	return cmd
}

func (k kindCommand) removeCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:     "remove <uuid|name>",
		Aliases: []string{"rm", "terminate"},
		Short:   fmt.Sprintf("Terminate a %s", k.kind),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{stream: wait})
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			ops := k.ops(s.client)
			target, err := k.resolve(ctx, ops, args[0])
			if err != nil {
				return err
			}
			action, err := ops.Remove(ctx, target)
			if err != nil {
				return err
			}
			if !wait {
				return printAction(cmd.OutOrStdout(), action)
			}
			return s.settle(cmd, k.kind, target, action, resource.StateTerminated)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, fmt.Sprintf("wait until the %s is Terminated", k.kind))
	return cmd
}

type childLister func(ctx context.Context, c *dockercloud.Client, parent resource.Resource) ([]resource.Resource, error)

func (k kindCommand) childrenCommand(use, short string, list childLister) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <uuid|name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()

			parent, err := k.resolve(cmd.Context(), k.ops(s.client), args[0])
			if err != nil {
				return err
			}
			children, err := list(cmd.Context(), s.client, parent)
			if err != nil {
				return err
			}
			return printResources(cmd.OutOrStdout(), children)
		},
	}
}

// settle waits for the action of a mutation to succeed and then for the
// resource to reach state.
func (s *session) settle(cmd *cobra.Command, kind resource.Kind, target, action resource.Resource, state resource.State) (err error) {
	op := telemetry.StartOperation(cmd.Context(), "dcloud.settle",
		telemetry.AttrResourceKind.String(kind.String()),
		telemetry.AttrResourceUUID.String(target.UUID()),
	)
	defer func() { op.End(err) }()

	ctx := op.Ctx
	if action != nil {
		done, err := s.client.Actions.WaitUntilSuccess(ctx, action)
		if err != nil {
			return fmt.Errorf("action %s did not succeed: %w", action.UUID(), err)
		}
		s.logger.Debug().Str("action", done.UUID()).Msg("Action succeeded")
	}

	res, err := s.client.WaitForState(ctx, kind, resource.Resource{"uuid": target.UUID()}, state)
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), kind, res)
}

// readProps builds a request body from a file and key=value overrides.
func readProps(file string, sets []string) (map[string]any, error) {
	props := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, &props); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		if props == nil {
			props = map[string]any{}
		}
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", kv)
		}
		props[key] = value
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("empty request body, use --file or --set")
	}
	return props, nil
}
