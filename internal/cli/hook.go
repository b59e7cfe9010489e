package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazypower/duro/internal/hooks"
	"github.com/lazypower/duro/internal/logging"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Agent hook handlers",
}

var hookLocal bool

var hookPreCmd = &cobra.Command{
	Use:   "pre",
	Short: "PreToolUse hook: admit or deny the pending tool call",
	Long: `Reads the PreToolUse event on stdin and exits 0 to allow, 2 to deny or
3 when the enforcement stack is broken. A running server is used when
healthy; otherwise the rules are evaluated in-process.

DURO_WAIVE=rule_id:reason waives one waivable rule for this call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stdin, stdout, stderr := cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()
		opts := hooks.PreOptions{Waiver: os.Getenv("DURO_WAIVE")}
		opts.TrackReads, _ = strconv.ParseBool(os.Getenv("DURO_TRACK_READS"))

		cfg, err := loadConfig()
		if err != nil {
			return codeOf(hooks.FailClosed(stdout, stderr, err))
		}

		if !hookLocal {
			if client := hooks.NewClient(); client.Healthy() {
				logging.New("hook").Debug("evaluating via server", "url", client.URL())
				return codeOf(hooks.Pre(cmd.Context(), stdin, stdout, stderr, opts, client))
			}
		}

		st, err := openStack(cfg)
		if err != nil {
			return codeOf(hooks.FailClosed(stdout, stderr, err))
		}
		defer st.Close()
		return codeOf(hooks.Pre(cmd.Context(), stdin, stdout, stderr, opts, st.pipe))
	},
}

func codeOf(code int) error {
	if code == 0 {
		return nil
	}
	return exitCode(code)
}

func init() {
	hookPreCmd.Flags().BoolVar(&hookLocal, "local", false, "evaluate in-process without contacting the server")
	hookCmd.AddCommand(hookPreCmd)
}
