package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/selfheal/autoheal"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

var scanFlags struct {
	db string
}

var scanCmd = &cobra.Command{
	Use:   "scan -- <command> [args...]",
	Short: "Run a test command and report the locators it had to heal",
	Long: `Runs the command with AUTOHEAL_CONFIG and AUTOHEAL_SQLITE set, so healers
built with autoheal.ConfigFromEnv persist their records to the audit log.
When the command exits, the records it produced are summarised and a
markdown recommendations report is written under the project path. The
command's exit status is passed through.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.db, "db", "", "Audit database (default: report.sqlite from the config, else "+autoheal.DefaultAuditPath+")")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath, err := filepath.Abs(auditPath(cfg, scanFlags.db))
	if err != nil {
		return err
	}

	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	child.Env = append(os.Environ(), autoheal.EnvSQLite+"="+dbPath)
	if rootFlags.config != "" {
		abs, err := filepath.Abs(rootFlags.config)
		if err != nil {
			return err
		}
		child.Env = append(child.Env, autoheal.EnvConfig+"="+abs)
	}

	// Stored timestamps have millisecond precision.
	start := time.Now().Truncate(time.Millisecond)
	slog.Info("autoheal: scan", "cmd", args[0], "db", dbPath)
	runErr := child.Run()

	log, err := autoheal.OpenAuditLog(dbPath)
	if err != nil {
		return errors.Join(runErr, err)
	}
	defer log.Close()
	recs, err := log.List(context.WithoutCancel(ctx), autoheal.AuditFilter{Since: start})
	if err != nil {
		return errors.Join(runErr, err)
	}

	out := cmd.OutOrStdout()
	printScan(out, recs)
	if len(recs) > 0 {
		path, err := writeScanReport(cfg.ProjectPath, recs, start)
		if err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintf(out, "Report: %s\n", path)
	}
	return runErr
}

func printScan(w io.Writer, recs []locator.HealingRecord) {
	s := locator.Summarize(recs, 0)
	fmt.Fprintf(w, "\nLocator healing: %d attempts, %d healed, %d failed\n", s.Total, s.Succeeded, s.Failed)
	for _, r := range recs {
		if r.Success {
			fmt.Fprintf(w, "  healed  %s %q -> %q (%s, %.2f)\n", r.Page.Scope, r.OriginalLocator, r.HealedLocator, r.Strategy, r.Confidence)
		} else {
			fmt.Fprintf(w, "  FAILED  %s %q: %s\n", r.Page.Scope, r.OriginalLocator, r.Error)
		}
	}
}

func writeScanReport(projectPath string, recs []locator.HealingRecord, at time.Time) (string, error) {
	dir := filepath.Join(projectPath, autoheal.RecommendationsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "scan-"+at.UTC().Format("20060102T150405Z")+".md")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := autoheal.WriteReport(f, recs, 0, at); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// exitCode passes a child's exit status through; anything else is 1.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode()
	}
	return 1
}
