package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Eashwar-S/knowledge-map/application/services"

	"github.com/spf13/cobra"
)

// opener builds the service the commands run against
type opener func(ctx context.Context, configPath string) (*services.GraphService, func(), error)

type cli struct {
	open       opener
	configPath string
	asJSON     bool
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "graphctl",
		Short:         "Inspect and edit versioned knowledge graphs",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file (defaults to CONFIG_FILE)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		c.graphsCmd(),
		c.showCmd(),
		c.historyCmd(),
		c.verifyCmd(),
		c.createCmd(),
		c.addNodeCmd(),
		c.addEdgeCmd(),
		c.setContentCmd(),
		c.removeNodeCmd(),
		c.removeEdgeCmd(),
	)
	return root
}

// run opens the service for the duration of fn
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, svc *services.GraphService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := c.open(ctx, c.configPath)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func (c *cli) printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printAck(out io.Writer, res *services.MutationResult) error {
	if c.asJSON {
		return c.printJSON(out, res.Record)
	}
	_, err := fmt.Fprintf(out, "%s@%d  %s\n", res.GraphName, res.Version, res.Record.Summary)
	return err
}

func (c *cli) graphsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graphs",
		Short: "List stored graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				names, err := svc.ListGraphs(ctx)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), names)
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [graph]",
		Short: "Print a graph document; no name shows the default graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				snap, err := svc.ReadGraph(ctx, name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if c.asJSON {
					return c.printJSON(out, snap.Graph)
				}

				fmt.Fprintf(out, "%s@%d  %d nodes, %d edges\n", snap.Graph.Name(), snap.Version, snap.Graph.NodeCount(), snap.Graph.EdgeCount())
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, n := range snap.Graph.Nodes() {
					fmt.Fprintf(tw, "  node\t%s\t%s\t%q\n", n.ID, n.Type, n.Label)
				}
				for _, e := range snap.Graph.Edges() {
					fmt.Fprintf(tw, "  edge\t%s -> %s\t%q\n", e.From, e.To, e.Label)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <graph>",
		Short: "Print the history of a graph, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				records, err := svc.History(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if c.asJSON {
					return c.printJSON(out, records)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, r := range records {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Sequence, r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), r.Operation.Kind, r.Summary)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <graph>",
		Short: "Replay the history of a graph and compare it with the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				report, err := svc.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if c.asJSON {
					if err := c.printJSON(out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "%s@%d  %d records replayed\n", report.GraphName, report.SnapshotVersion, report.Records)
					fmt.Fprintf(out, "snapshot checksum %s\nreplayed checksum %s\n", report.SnapshotChecksum, report.ReplayChecksum)
					if len(report.Gaps) > 0 {
						fmt.Fprintf(out, "missing records: %v\n", report.Gaps)
					}
					if len(report.Divergent) > 0 {
						fmt.Fprintf(out, "divergent records: %v\n", report.Divergent)
					}
				}
				if !report.Match {
					return fmt.Errorf("history of %s does not match its snapshot", report.GraphName)
				}
				return nil
			})
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <graph>",
		Short: "Create a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				res, err := svc.CreateGraph(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printAck(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) addNodeCmd() *cobra.Command {
	var nodeType string
	cmd := &cobra.Command{
		Use:   "add-node <graph> <id> <label>",
		Short: "Add a node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				node, err := svc.AddNode(ctx, args[0], args[1], args[2], nodeType)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), node)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s node %s\n", node.Type, node.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&nodeType, "type", "t", "topic", "node type: topic, block or item")
	return cmd
}

func (c *cli) addEdgeCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add-edge <graph> <from> <to>",
		Short: "Add an edge between two existing nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				edge, err := svc.AddEdge(ctx, args[0], args[1], args[2], label)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), edge)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added edge %s -> %s\n", edge.From, edge.To)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "edge label")
	return cmd
}

func (c *cli) setContentCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "set-content <graph> <node> [content]",
		Short: "Replace a node's content from an argument, a file or stdin (-f -)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := contentArg(cmd, args, fromFile)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				res, err := svc.SetNodeContent(ctx, args[0], args[1], content)
				if err != nil {
					return err
				}
				return c.printAck(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read content from a file, - for stdin")
	return cmd
}

func contentArg(cmd *cobra.Command, args []string, fromFile string) (string, error) {
	switch {
	case len(args) == 3 && fromFile != "":
		return "", fmt.Errorf("give content either as an argument or with --file")
	case len(args) == 3:
		return args[2], nil
	case fromFile == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	case fromFile != "":
		data, err := os.ReadFile(fromFile)
		return string(data), err
	default:
		return "", fmt.Errorf("content is required")
	}
}

func (c *cli) removeNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node <graph> <node>",
		Short: "Remove a node and every edge touching it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				res, err := svc.RemoveNode(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.printAck(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) removeEdgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-edge <graph> <from> <to>",
		Short: "Remove every edge from one node to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc *services.GraphService) error {
				res, err := svc.RemoveEdge(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return c.printAck(cmd.OutOrStdout(), res)
			})
		},
	}
}
