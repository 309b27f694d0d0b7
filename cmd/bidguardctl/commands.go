package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/bidguard/internal/app"
	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/export"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

// appFactory builds the application for one command run.
type appFactory func(ctx context.Context, cfgPath string) (*app.App, error)

func openApp(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

type cli struct {
	open    appFactory
	cfgPath string
	actor   string
	asJSON  bool
}

func newRootCmd(open appFactory) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "bidguardctl",
		Short:         "Review and act on bid and budget recommendations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", envOr("BIDGUARD_CONFIG", "config/config.yaml"), "path to config.yaml")
	root.PersistentFlags().StringVar(&c.actor, "actor", envOr("USER", domain.ActorOperator), "name recorded on actions")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print machine-readable JSON")

	root.AddCommand(
		c.listCmd(),
		c.actionCmd("approve <id>...", "Approve and apply pending recommendations", c.approve),
		c.actionCmd("reject <id>...", "Reject pending recommendations", c.reject),
		c.actionCmd("revert <change-id>...", "Revert applied changes", c.revert),
		c.lockCmd(),
		c.unlockCmd(),
		c.exportCmd(),
		c.importValuesCmd(),
		c.cycleCmd(),
		c.evaluateCmd(),
		c.statsCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// with opens the app for the duration of fn.
func (c *cli) with(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := c.open(ctx, c.cfgPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func (c *cli) print(w io.Writer, v any, text func(w io.Writer)) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// --- list ---

func (c *cli) listCmd() *cobra.Command {
	var status, priority, adj, entityType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recommendations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := repository.RecommendationFilter{
				Status:         domain.Status(status),
				Priority:       domain.Priority(priority),
				AdjustmentType: domain.AdjustmentType(adj),
				EntityType:     domain.EntityType(entityType),
				Limit:          limit,
			}
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				recs, err := a.Recs.List(ctx, f)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), recs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tCURRENT\tRECOMMENDED\tPRIORITY\tCONF\tSTATUS")
					for _, r := range recs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%.2f\t%s\n",
							r.ID, r.Ref().Key(), r.AdjustmentType, r.CurrentValue, r.RecommendedValue,
							r.Priority, r.Confidence, r.Status)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "status filter, empty for all")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&adj, "type", "", "adjustment type filter")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

// --- approve / reject / revert ---

type actionFunc func(ctx context.Context, a *app.App, id, actor string) recommendation.Result

func (c *cli) approve(ctx context.Context, a *app.App, id, actor string) recommendation.Result {
	return a.Recs.Approve(ctx, id, actor)
}

func (c *cli) reject(ctx context.Context, a *app.App, id, actor string) recommendation.Result {
	return a.Recs.Reject(ctx, id, actor)
}

func (c *cli) revert(ctx context.Context, a *app.App, id, actor string) recommendation.Result {
	return a.Recs.Revert(ctx, id, actor)
}

// actionCmd runs fn once per argument. Every id is attempted; the command
// fails if any of them failed.
func (c *cli) actionCmd(use, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				results := make([]recommendation.Result, 0, len(args))
				failed := 0
				for _, id := range args {
					res := fn(ctx, a, id, c.actor)
					if !res.OK {
						failed++
					}
					results = append(results, res)
				}
				if err := c.print(cmd.OutOrStdout(), results, func(w io.Writer) {
					for _, res := range results {
						printResult(w, res)
					}
				}); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d failed", failed, len(args))
				}
				return nil
			})
		},
	}
}

func printResult(w io.Writer, res recommendation.Result) {
	if !res.OK {
		fmt.Fprintf(w, "%s: FAILED (%s) %s\n", res.ID, res.Code, res.Reason)
		return
	}
	switch {
	case res.Change != nil && res.Recommendation != nil:
		fmt.Fprintf(w, "%s: %s, %s %.2f -> %.2f (change %s)\n", res.ID, res.Recommendation.Status,
			res.Change.AdjustmentType, res.Change.OldValue, res.Change.NewValue, res.Change.ID)
	case res.Recommendation != nil:
		fmt.Fprintf(w, "%s: %s\n", res.ID, res.Recommendation.Status)
	case res.GateState != nil:
		fmt.Fprintf(w, "%s: locked=%t\n", res.ID, res.GateState.IsLocked)
	default:
		fmt.Fprintf(w, "%s: ok\n", res.ID)
	}
}

// --- lock / unlock ---

func parseRef(args []string) (domain.EntityRef, error) {
	t, err := domain.ParseEntityType(args[0])
	if err != nil {
		return domain.EntityRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return domain.EntityRef{Type: t, ID: args[1]}, nil
}

func (c *cli) lockCmd() *cobra.Command {
	var days int
	var reason string
	cmd := &cobra.Command{
		Use:   "lock <entity-type> <entity-id>",
		Short: "Suppress engine changes to an entity for a number of days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args)
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Gates.Lock(ctx, ref, days, reason)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), st, func(w io.Writer) {
					fmt.Fprintf(w, "%s locked until %s\n", ref.Key(), st.LockExpiresAt.Format(time.RFC3339))
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "lock duration in days")
	cmd.Flags().StringVar(&reason, "reason", "", "why the entity is locked")
	return cmd
}

func (c *cli) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <entity-type> <entity-id>",
		Short: "Lift an entity lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args)
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Gates.Unlock(ctx, ref)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), st, func(w io.Writer) {
					fmt.Fprintf(w, "%s unlocked\n", ref.Key())
				})
			})
		},
	}
}

// --- export ---

func (c *cli) exportCmd() *cobra.Command {
	var format, out, status string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recommendations as JSON or CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				recs, err := a.Recs.List(ctx, repository.RecommendationFilter{Status: domain.Status(status)})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					file, err := os.Create(out)
					if err != nil {
						return err
					}
					defer file.Close()
					w = file
				}
				return export.Write(w, f, recs)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or json")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

// --- import-values ---

func (c *cli) importValuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-values <file>",
		Short: "Record current platform bids, budgets and serving states from a CSV file",
		Long: "Reads entity_type,entity_id,bid,budget,negated rows, - for stdin. Imported values\n" +
			"replace stored ones, so approvals are checked against them from then on.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
			}
			rows, err := export.ReadValuesCSV(in)
			if err != nil {
				return err
			}
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				imp, ok := a.Store.(repository.ValueImporter)
				if !ok {
					return fmt.Errorf("store %T cannot import values", a.Store)
				}
				for _, row := range rows {
					if err := imp.ImportValues(ctx, row.Ref, row.Values); err != nil {
						return fmt.Errorf("import %s: %w", row.Ref.Key(), err)
					}
				}
				return c.print(cmd.OutOrStdout(), map[string]int{"imported": len(rows)}, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d entities\n", len(rows))
				})
			})
		},
	}
}

// --- cycle / evaluate / stats ---

func (c *cli) cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one evaluation cycle now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Scheduler.RunCycle(ctx)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
					fmt.Fprintf(w, "entities=%d signals=%d created=%d auto_approved=%d gate_rejected=%d insufficient=%d errors=%d\n",
						rep.Entities, rep.Signals, rep.Created, rep.AutoApproved, rep.GateRejected, rep.Insufficient, rep.Errors)
				})
			})
		},
	}
}

func (c *cli) evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one outcome pass over matured changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Scheduler.RunOutcomePass(ctx)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
					fmt.Fprintf(w, "due=%d evaluated=%d success=%d neutral=%d failure=%d data_gaps=%d\n",
						rep.Due, rep.Evaluated, rep.Success, rep.Neutral, rep.Failure, rep.DataGaps)
				})
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show outcome rates per rule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.with(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Outcomes.RecentStats(ctx, time.Duration(days)*24*time.Hour)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), stats, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RULE\tSUCCESS\tNEUTRAL\tFAILURE\tSUCCESS_RATE")
					row := func(name string, oc domain.OutcomeCounts) {
						fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\n", name, oc.Success, oc.Neutral, oc.Failure, oc.SuccessRate)
					}
					row("all", stats.Global)
					for _, rule := range sortedRules(stats) {
						row(string(rule), stats.Rule(rule))
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "lookback in days")
	return cmd
}

func sortedRules(s *domain.LearningStats) []domain.RuleID {
	out := make([]domain.RuleID, 0, len(s.PerRule))
	for id := range s.PerRule {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
