package autoheal

import (
	"context"
	"io"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/selfheal/autoheal/internal/recorder"
	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Sink receives every healing record.
type Sink = recorder.Sink

// RecordFunc is called for each record by a callback sink.
type RecordFunc = recorder.RecordFunc

// StdoutSink writes JSON lines to w (stdout when nil).
func StdoutSink(w io.Writer) Sink {
	return recorder.NewStdout(w)
}

// CallbackSink delivers records to fn in-process.
func CallbackSink(fn func(ctx context.Context, rec locator.HealingRecord) error) Sink {
	return recorder.NewCallback(fn)
}

// WebhookSink POSTs each record to url with retry.
func WebhookSink(url string, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return recorder.NewWebhook(url, recorder.WithWebhookLogger(logger))
}

// SQLiteSink persists records to the audit database at path.
func SQLiteSink(path string) (Sink, error) {
	return recorder.OpenSQLite(path)
}

// MarkdownSink writes the recommendations report under projectPath when
// the healer closes.
func MarkdownSink(projectPath string) Sink {
	return recorder.NewMarkdown(projectPath)
}

// sinksFromConfig builds the sinks named in cfg.Report.
func sinksFromConfig(cfg Config, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	if cfg.Report.Stdout {
		sinks = append(sinks, StdoutSink(nil))
	}
	if cfg.Report.Webhook != "" {
		sinks = append(sinks, WebhookSink(cfg.Report.Webhook, logger))
	}
	if cfg.Report.SQLite != "" {
		s, err := SQLiteSink(cfg.Report.SQLite)
		if err != nil {
			for _, prev := range sinks {
				prev.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Report.Markdown {
		sinks = append(sinks, MarkdownSink(cfg.ProjectPath))
	}
	return sinks, nil
}
