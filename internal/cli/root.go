// Package cli implements hipaactl, the operator tool for the security core.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hipaa-training/internal/app"
)

type rootOptions struct {
	jsonOutput bool
	noDotEnv   bool
}

// NewRootCommand builds the hipaactl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "hipaactl",
		Short: "Operate the HIPAA training security core",
		Long: `hipaactl manages the security database of the HIPAA training application:
schema migrations, the retention purge, audit log review, users and MFA enrollment.

It reads the same environment as the API server (DATABASE_URL, SESSION_SECRET, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output JSON instead of human-readable text")
	root.PersistentFlags().BoolVar(&opts.noDotEnv, "no-dotenv", false, "Do not load a .env file")

	root.AddCommand(
		newMigrateCommand(opts),
		newPurgeCommand(opts),
		newAuditCommand(opts),
		newUserCommand(opts),
		newMFACommand(opts),
		newServeCommand(opts),
	)
	return root
}

func (o *rootOptions) build(runMigrations bool) (*app.Runtime, error) {
	return app.Build(app.Options{
		LoadDotEnv:    !o.noDotEnv,
		RunMigrations: runMigrations || app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	})
}

func (o *rootOptions) print(cmd *cobra.Command, data any, human func(io.Writer)) error {
	out := cmd.OutOrStdout()
	if !o.jsonOutput {
		human(out)
		return nil
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
