package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/selfheal/autoheal"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

var reportFlags struct {
	db       string
	scope    string
	since    time.Duration
	failed   bool
	limit    int
	markdown bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise the healing records stored in the SQLite audit log",
	RunE:  runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.db, "db", "", "Audit database (default: report.sqlite from the config, else "+autoheal.DefaultAuditPath+")")
	f.StringVar(&reportFlags.scope, "scope", "", "Only records for this page scope (origin + path)")
	f.DurationVar(&reportFlags.since, "since", 0, "Only records newer than this, e.g. 24h")
	f.BoolVar(&reportFlags.failed, "failed", false, "Only failed attempts")
	f.IntVar(&reportFlags.limit, "limit", 0, "Keep at most this many records, most recent first")
	f.BoolVar(&reportFlags.markdown, "markdown", false, "Print the markdown recommendations report instead of JSON")
}

type reportOutput struct {
	Summary locator.Summary         `json:"summary"`
	Records []locator.HealingRecord `json:"records"`
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := auditPath(cfg, reportFlags.db)

	log, err := autoheal.OpenAuditLog(path)
	if err != nil {
		return err
	}
	defer log.Close()

	f := autoheal.AuditFilter{Scope: reportFlags.scope, Limit: reportFlags.limit}
	if reportFlags.since > 0 {
		f.Since = time.Now().Add(-reportFlags.since)
	}
	if reportFlags.failed {
		f.Success = new(bool)
	}
	recs, err := log.List(ctx, f)
	if err != nil {
		return fmt.Errorf("list %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	if reportFlags.markdown {
		return autoheal.WriteReport(out, recs, 0, time.Now())
	}
	sum, err := log.Summarize(ctx)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []locator.HealingRecord{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reportOutput{Summary: sum, Records: recs})
}

// auditPath picks the audit database: the flag, then report.sqlite, then
// the default under the project path.
func auditPath(cfg autoheal.Config, flag string) string {
	switch {
	case flag != "":
		return flag
	case cfg.Report.SQLite != "":
		return cfg.Report.SQLite
	default:
		return filepath.Join(cfg.ProjectPath, autoheal.DefaultAuditPath)
	}
}
