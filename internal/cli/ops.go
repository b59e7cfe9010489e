package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/duro/internal/api"
	"github.com/lazypower/duro/internal/enforce"
	"github.com/lazypower/duro/internal/store"
)

// runOp opens the stack, runs op against the service and prints the result
// as indented JSON.
func runOp(cmd *cobra.Command, op func(ctx context.Context, svc *api.Service) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := op(cmd.Context(), st.svc)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decay

var (
	decayDryRun        bool
	decayMinImportance float64
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one confidence decay pass over all facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.ApplyDecay(ctx, api.ApplyDecayInput{DryRun: decayDryRun, MinImportance: decayMinImportance})
		})
	},
}

// threshold

var (
	thresholdPeriod int
	thresholdJSON   bool
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Check the trailing waiver count against the policy thresholds",
	Long:  "Exits 1 when the fail threshold is reached, so CI can gate on waiver creep.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStack(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		r, err := st.svc.CheckThreshold(cmd.Context(), api.ThresholdInput{PeriodDays: thresholdPeriod})
		if err != nil {
			return err
		}
		if thresholdJSON {
			if err := printJSON(cmd.OutOrStdout(), r); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d waivers in %d days (warn %d, fail %d)\n",
				r.Status, r.Count, r.PeriodDays, r.Warn, r.Limit)
		}
		if r.Status == enforce.ThresholdFail {
			return exitCode(1)
		}
		return nil
	},
}

// gate

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Drive the three-pass debug gate",
}

var gateStartIn api.GateStartInput

var gateStartCmd = &cobra.Command{
	Use:   "start <symptom>",
	Short: "Open a debug gate on a new incident draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := gateStartIn
		in.Symptom = args[0]
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateStart(ctx, in)
		})
	},
}

var gateStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show outstanding passes and change candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateStatus(ctx, api.IDInput{ID: args[0]})
		})
	},
}

var gateUpdateIn struct {
	repro      []string
	riskTags   []string
	boundary   string
	cause      string
	fix        string
	prevention string
	severity   string
}

var gateUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Add repro steps or set the boundary, cause, fix or severity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := api.GateUpdateInput{
			ID:            args[0],
			AddReproSteps: gateUpdateIn.repro,
			AddRiskTags:   gateUpdateIn.riskTags,
			Severity:      store.Severity(gateUpdateIn.severity),
		}
		flags := cmd.Flags()
		if flags.Changed("boundary") {
			in.FirstBadBoundary = &gateUpdateIn.boundary
		}
		if flags.Changed("cause") {
			in.ActualCause = &gateUpdateIn.cause
		}
		if flags.Changed("fix") {
			in.Fix = &gateUpdateIn.fix
		}
		if flags.Changed("prevention") {
			in.Prevention = &gateUpdateIn.prevention
		}
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateUpdate(ctx, in)
		})
	},
}

var gateLinkCmd = &cobra.Command{
	Use:   "link <id> <change-id>",
	Short: "Link a change-ledger entry to an incident",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateLinkChange(ctx, api.GateLinkInput{ID: args[0], ChangeID: args[1]})
		})
	},
}

var gateClearCmd = &cobra.Command{
	Use:   "clear <id> <note>",
	Short: "Record that no recent change is related",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateClear(ctx, api.GateClearInput{ID: args[0], Note: args[1]})
		})
	},
}

var gateCompleteIn api.GateCompleteInput

var gateCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a debug gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := gateCompleteIn
		in.ID = args[0]
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GateComplete(ctx, in)
		})
	},
}

// artifact

var artifactCmd = &cobra.Command{
	Use:     "artifact",
	Aliases: []string{"artifacts"},
	Short:   "Inspect and delete artifacts",
}

var artifactGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.GetArtifact(ctx, api.IDInput{ID: args[0]})
		})
	},
}

var (
	artifactListIn    api.ListArtifactsInput
	artifactListType  string
	artifactListSince time.Duration
)

var artifactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := artifactListIn
		in.Type = store.Type(artifactListType)
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			if artifactListSince > 0 {
				in.Since = svc.DB.Time().Add(-artifactListSince).Format(time.RFC3339)
			}
			return svc.ListArtifacts(ctx, in)
		})
	},
}

var artifactDeleteIn api.DeleteArtifactInput

var artifactDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := artifactDeleteIn
		in.ID = args[0]
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.DeleteArtifact(ctx, in)
		})
	},
}

var artifactRevisionsCmd = &cobra.Command{
	Use:   "revisions <id>",
	Short: "Show the mutation log of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.Revisions(ctx, api.IDInput{ID: args[0]})
		})
	},
}

// change

var changeCmd = &cobra.Command{
	Use:   "change",
	Short: "Record and query the change ledger",
}

var changeAddIn api.StoreChangeInput

var changeAddCmd = &cobra.Command{
	Use:   "add <scope> <change>",
	Short: "Append an entry to the change ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := changeAddIn
		in.Scope, in.Change = args[0], args[1]
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.StoreChange(ctx, in)
		})
	},
}

var changeRecentIn api.RecentChangesInput

var changeRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent changes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := changeRecentIn
		return runOp(cmd, func(ctx context.Context, svc *api.Service) (any, error) {
			return svc.RecentChanges(ctx, in)
		})
	},
}

func init() {
	decayCmd.Flags().BoolVar(&decayDryRun, "dry-run", false, "report without writing")
	decayCmd.Flags().Float64Var(&decayMinImportance, "min-importance", 0, "skip facts less important than this")

	thresholdCmd.Flags().IntVar(&thresholdPeriod, "period", 0, "trailing period in days (default: waiver policy period)")
	thresholdCmd.Flags().BoolVar(&thresholdJSON, "json", false, "print the result as JSON")

	f := gateStartCmd.Flags()
	f.StringSliceVar(&gateStartIn.Tags, "tag", nil, "incident tag (repeatable)")
	f.StringSliceVar(&gateStartIn.ReproSteps, "repro", nil, "repro step (repeatable)")
	f.StringVar(&gateStartIn.FirstBadBoundary, "boundary", "", "first bad boundary")
	f.StringVar((*string)(&gateStartIn.Severity), "severity", "", "low, medium, high or critical")
	f.StringVar((*string)(&gateStartIn.Sensitivity), "sensitivity", "", "public, internal or sensitive")
	f.StringVar(&gateStartIn.Workflow, "workflow", "", "workflow name")

	f = gateUpdateCmd.Flags()
	f.StringSliceVar(&gateUpdateIn.repro, "repro", nil, "repro step to append (repeatable)")
	f.StringSliceVar(&gateUpdateIn.riskTags, "risk-tag", nil, "risk tag to append (repeatable)")
	f.StringVar(&gateUpdateIn.boundary, "boundary", "", "first bad boundary")
	f.StringVar(&gateUpdateIn.cause, "cause", "", "actual cause")
	f.StringVar(&gateUpdateIn.fix, "fix", "", "fix")
	f.StringVar(&gateUpdateIn.prevention, "prevention", "", "prevention")
	f.StringVar(&gateUpdateIn.severity, "severity", "", "low, medium, high or critical")

	gateCompleteCmd.Flags().BoolVar(&gateCompleteIn.Override, "override", false, "complete despite unmet passes")
	gateCompleteCmd.Flags().StringVar(&gateCompleteIn.OverrideReason, "reason", "", "override reason (audited)")

	gateCmd.AddCommand(gateStartCmd, gateStatusCmd, gateUpdateCmd, gateLinkCmd, gateClearCmd, gateCompleteCmd)

	f = artifactListCmd.Flags()
	f.StringVar(&artifactListType, "type", "", "fact, decision, incident, recent_change or episode")
	f.StringSliceVar(&artifactListIn.Tags, "tag", nil, "match any of these tags (repeatable)")
	f.StringVar((*string)(&artifactListIn.Sensitivity), "sensitivity", "", "public, internal or sensitive")
	f.StringVar(&artifactListIn.Workflow, "workflow", "", "workflow name")
	f.DurationVar(&artifactListSince, "since", 0, "only artifacts created within this duration")
	f.StringVar(&artifactListIn.Text, "text", "", "substring of the content")
	f.BoolVar(&artifactListIn.IncludeDeleted, "include-deleted", false, "include soft-deleted artifacts")
	f.IntVar(&artifactListIn.Limit, "limit", 50, "maximum results")

	artifactDeleteCmd.Flags().StringVar(&artifactDeleteIn.Reason, "reason", "", "why the artifact is deleted")
	artifactDeleteCmd.Flags().BoolVar(&artifactDeleteIn.Force, "force", false, "required for sensitive artifacts")

	artifactCmd.AddCommand(artifactGetCmd, artifactListCmd, artifactDeleteCmd, artifactRevisionsCmd)

	f = changeAddCmd.Flags()
	f.StringVar(&changeAddIn.Why, "why", "", "why the change was made")
	f.StringSliceVar(&changeAddIn.RiskTags, "risk-tag", nil, "risk tag (repeatable; inferred when omitted)")
	f.StringSliceVar(&changeAddIn.QuickChecks, "check", nil, "quick check verifying the change (repeatable)")
	f.StringVar(&changeAddIn.CommitHash, "commit", "", "commit hash")

	f = changeRecentCmd.Flags()
	f.Float64Var(&changeRecentIn.Hours, "hours", 0, "lookback in hours (default: debug gate lookback)")
	f.StringSliceVar(&changeRecentIn.RiskTags, "risk-tag", nil, "match any of these risk tags (repeatable)")
	f.StringVar(&changeRecentIn.Scope, "scope", "", "substring of the change scope")
	f.IntVar(&changeRecentIn.Limit, "limit", 50, "maximum results")

	changeCmd.AddCommand(changeAddCmd, changeRecentCmd)
}
