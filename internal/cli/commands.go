package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hipaa-training/internal/app"
	"hipaa-training/internal/audit"
	"hipaa-training/internal/security"
)

const passwordEnv = "HIPAACTL_PASSWORD"

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := opts.build(true)
			if err != nil {
				return err
			}
			defer runtime.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete audit events, failed attempts and CSRF tokens past retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := opts.build(false)
			if err != nil {
				return err
			}
			defer runtime.Close()

			result, err := runtime.Security.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "audit events deleted:    %d\n", result.DeletedAuditEvents)
				fmt.Fprintf(w, "failed attempts deleted: %d\n", result.DeletedFailedAttempts)
				fmt.Fprintf(w, "csrf tokens deleted:     %d\n", result.DeletedCSRFTokens)
			})
		},
	}
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	audits := &cobra.Command{
		Use:   "audit",
		Short: "Review the audit trail",
	}

	var (
		userID   string
		days     int
		severity string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := audit.Filter{UserID: userID, Days: days, Limit: limit}
			if severity != "" {
				parsed, ok := audit.ParseSeverity(severity)
				if !ok {
					return fmt.Errorf("unknown severity %q", severity)
				}
				filter.Severity = parsed
			}

			runtime, err := opts.build(false)
			if err != nil {
				return err
			}
			defer runtime.Close()

			events, err := runtime.Security.GetAuditLogs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return opts.print(cmd, events, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIMESTAMP\tEVENT\tSEVERITY\tUSER\tIP\tDETAILS")
				for _, e := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.EventType, e.Severity, e.UserID, e.IPAddress, e.Details)
				}
				_ = tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "Only events for this user id")
	list.Flags().IntVar(&days, "days", audit.DefaultQueryDays, "How many days back to look")
	list.Flags().StringVar(&severity, "severity", "", "Only events of this severity (INFO, WARNING, ERROR)")
	list.Flags().IntVar(&limit, "limit", 100, "Maximum number of events")

	audits.AddCommand(list)
	return audits
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	users := &cobra.Command{
		Use:   "user",
		Short: "Manage training accounts",
	}

	var username, role, facility, password string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user or reset an existing one",
		Long:  "Create a user or reset an existing one. The password comes from --password or " + passwordEnv + ".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return fmt.Errorf("password required: pass --password or set %s", passwordEnv)
			}

			runtime, err := opts.build(false)
			if err != nil {
				return err
			}
			defer runtime.Close()

			user, err := runtime.Users.CreateUser(cmd.Context(), username, password, role, facility)
			if err != nil {
				return err
			}
			summary := map[string]string{"id": user.ID, "username": user.Username, "role": user.Role, "facility": user.Facility}
			return opts.print(cmd, summary, func(w io.Writer) {
				fmt.Fprintf(w, "user %s (%s) saved with role %s\n", user.Username, user.ID, user.Role)
			})
		},
	}
	add.Flags().StringVar(&username, "username", "", "Login name")
	add.Flags().StringVar(&role, "role", security.RoleTrainee, "Admin, Pharmacist, Technician or Trainee")
	add.Flags().StringVar(&facility, "facility", "", "Facility the user works at")
	add.Flags().StringVar(&password, "password", "", "Password (prefer "+passwordEnv+")")
	_ = add.MarkFlagRequired("username")

	users.AddCommand(add)
	return users
}

func newMFACommand(opts *rootOptions) *cobra.Command {
	mfaCmd := &cobra.Command{
		Use:   "mfa",
		Short: "Manage TOTP enrollment",
	}

	var username string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Generate a new TOTP secret for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := opts.build(false)
			if err != nil {
				return err
			}
			defer runtime.Close()

			user, err := runtime.Users.Lookup(cmd.Context(), username)
			if err != nil {
				return err
			}
			enrollment, err := runtime.Security.MFA().Enable(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			return opts.print(cmd, enrollment, func(w io.Writer) {
				fmt.Fprintf(w, "secret: %s\nurl:    %s\n", enrollment.Secret, enrollment.URL)
			})
		},
	}
	enable.Flags().StringVar(&username, "user", "", "Login name to enroll")
	_ = enable.MarkFlagRequired("user")

	mfaCmd.AddCommand(enable)
	return mfaCmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with the purge scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, err := opts.build(app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true))
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, runtime)
		},
	}
}
