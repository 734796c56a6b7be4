package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/selfheal/autoheal"
	"github.com/hazyhaar/selfheal/autoheal/htmlpage"
	"github.com/hazyhaar/selfheal/autoheal/locator"
	"github.com/hazyhaar/selfheal/autoheal/rodpage"
)

var healFlags struct {
	url      string
	file     string
	selector string
	action   string
	value    string
	out      string
}

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Heal one selector against a live page or an HTML file",
	Long: `Resolves --selector against the page. Without --action the best verified
replacement is printed and nothing is touched. With --action the action is
performed through the healer, healing the selector if it is broken.

--url opens the page in Chrome (see the browser section of the config);
--file loads a local HTML document instead.`,
	RunE: runHeal,
}

func init() {
	f := healCmd.Flags()
	f.StringVar(&healFlags.url, "url", "", "Page URL to open in Chrome")
	f.StringVar(&healFlags.file, "file", "", "Local HTML file")
	f.StringVar(&healFlags.selector, "selector", "", "Broken selector (required)")
	f.StringVar(&healFlags.action, "action", "", "fill, click, check, uncheck, select, hover or getText")
	f.StringVar(&healFlags.value, "value", "", "Text to fill or option to select")
	f.StringVar(&healFlags.out, "out", "", "Write the page HTML after the action to this file")

	_ = healCmd.MarkFlagRequired("selector")
	healCmd.MarkFlagsMutuallyExclusive("url", "file")
	healCmd.MarkFlagsOneRequired("url", "file")
}

type pageSource interface {
	locator.Page
	locator.Identifier
}

type healOutput struct {
	Selector locator.Locator      `json:"selector"`
	Output   string               `json:"output,omitempty"`
	Heal     *autoheal.HealResult `json:"heal,omitempty"`
	Summary  locator.Summary      `json:"summary"`
}

func runHeal(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := autoheal.New(cfg, autoheal.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer h.Close()

	page, closePage, err := openPage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePage()

	sel := locator.Locator(healFlags.selector)
	res := healOutput{Selector: sel}
	if healFlags.action == "" {
		hr, err := h.HealSelector(ctx, page, sel)
		if err != nil {
			return err
		}
		res.Heal = &hr
		if hr.Success {
			res.Selector = hr.NewSelector
		}
	} else {
		id, err := page.Identity(ctx)
		if err != nil {
			return err
		}
		act := locator.Action{Kind: locator.ActionKind(healFlags.action), Value: healFlags.value}
		hp := h.Setup(page, id)
		if res.Output, err = hp.Do(ctx, sel, act); err != nil {
			return err
		}
		if recs := h.Results(); len(recs) > 0 && recs[len(recs)-1].Success {
			res.Selector = recs[len(recs)-1].HealedLocator
		}
	}

	if healFlags.out != "" {
		html, err := page.Content(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(healFlags.out, html, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", healFlags.out, err)
		}
	}

	res.Summary = h.Summarize()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Heal != nil && !res.Heal.Success {
		return errors.New("no verified replacement found")
	}
	return nil
}

func openPage(ctx context.Context, cfg autoheal.Config) (pageSource, func(), error) {
	if healFlags.file != "" {
		p, err := htmlpage.Open(healFlags.file)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
	s, err := rodpage.Open(ctx, healFlags.url, rodpage.Options{
		Remote:   cfg.Browser.Remote,
		Headless: cfg.Browser.Headless,
		Stealth:  cfg.Browser.Stealth,
		Block:    cfg.Browser.Block,
		Logger:   slog.Default(),
	})
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			slog.Warn("autoheal: close browser", "error", err)
		}
	}, nil
}
