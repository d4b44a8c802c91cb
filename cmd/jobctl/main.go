package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantdesk/exojobs/infrastructure/service/jwt"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/app"
	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/usecase"
)

var (
	cfg *config.Config
	lg  logger.Logger

	flagVerbose bool
	flagID      string
	flagParams  string
	flagLimit   int
	flagJob     string
	flagSubject string
	flagRole    string
	flagTTL     time.Duration
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging on stderr")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initJobctl

	for _, c := range []*cobra.Command{runCmd, enqueueCmd} {
		c.Flags().StringVar(&flagID, "id", "", "job id (generated when empty)")
		c.Flags().StringVar(&flagParams, "params", "", `action params as a JSON object, e.g. '{"identity":"alice@contoso.com"}'`)
	}
	auditsCmd.Flags().IntVar(&flagLimit, "limit", domain.DefaultAuditListLimit, "maximum number of records")
	auditsCmd.Flags().StringVar(&flagJob, "job", "", "show the full trail of one job, oldest first")
	tokenCmd.Flags().StringVar(&flagSubject, "subject", "", "who the token is issued to")
	tokenCmd.Flags().StringVar(&flagRole, "role", jwt.RoleOperator, "admin or operator")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(runCmd, enqueueCmd, auditsCmd, actionsCmd, tokenCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.SetFlags(0)
		log.Printf("jobctl: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "jobctl",
	Short:        "Run, enqueue and inspect Exchange Online jobs",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <action>",
	Short: "run an action synchronously in this process and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <action>",
	Short: "put an action on the job queue for a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  doEnqueue,
}

var auditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "list audit records",
	Args:  cobra.NoArgs,
	RunE:  doAudits,
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "list supported actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range usecase.DefaultActions().Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a bearer token for the job API",
	Args:  cobra.NoArgs,
	RunE:  doToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "jobctl: version info not available")
			return
		}

		fmt.Fprintf(out, "jobctl: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:   %s\n", s.Value)
			}
		}
	},
}

func initJobctl(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd || cmd == actionsCmd {
		return nil
	}

	var err error
	cfg, err = app.LoadConfig()
	if err != nil {
		return err
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	} else {
		cfg.Logging.Level = "warn"
	}
	lg = app.NewLogger(cfg, "jobctl", os.Stderr)
	return nil
}

func jobRequest(action string) (domain.JobRequest, error) {
	req := domain.JobRequest{ID: flagID, Action: action}
	if flagParams != "" {
		if err := json.Unmarshal([]byte(flagParams), &req.Params); err != nil {
			return req, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	return req, nil
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := jobRequest(args[0])
	if err != nil {
		return err
	}

	core, err := app.NewCore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer core.Close()

	outcome, err := usecase.NewSyncExecutor(core.Attempts).ExecuteSync(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("job %s failed", outcome.JobID)
	}
	return nil
}

func doEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := jobRequest(args[0])
	if err != nil {
		return err
	}

	core, err := app.NewCore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer core.Close()

	q, err := core.OpenQueue(ctx)
	if err != nil {
		return err
	}
	defer q.Close()

	handle, err := usecase.NewEnqueuer(q, lg, core.Metrics).Enqueue(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), handle)
}

func doAudits(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	core, err := app.NewCore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer core.Close()

	records, err := listAudits(ctx, core, flagJob, flagLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), records)
}

func listAudits(ctx context.Context, core *app.Core, jobID string, limit int) ([]domain.AuditRecord, error) {
	if jobID != "" {
		return core.Audits.ListByJob(ctx, jobID)
	}
	return core.Audits.List(ctx, limit)
}

func doToken(cmd *cobra.Command, _ []string) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	svc, err := jwt.NewJWTService(cfg.Security.JWTSecret, "exojobs")
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(flagSubject, flagRole, flagTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
