package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/dashboard"
	"github.com/spf13/cobra"
)

// app holds what every command needs once flags are parsed.
type app struct {
	apiURL  string
	verbose bool

	cfg     *config.Config
	client  *dashboard.Client
	session *dashboard.Session
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "meetscore",
		Short:         "Send meeting bots and read their scorecards",
		Long:          "meetscore drives the meeting bot dashboard from a terminal: create bots, watch their status and read the AI scorecard once a meeting ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.session != nil {
				a.session.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "API base URL (default MEETSCORE_API_BASE_URL)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	bots := &cobra.Command{Use: "bots", Short: "Manage meeting bots"}
	bots.AddCommand(a.listCmd(), a.createCmd(), a.showCmd(), a.selectCmd(), a.deleteCmd())

	webhooks := &cobra.Command{Use: "webhooks", Short: "Inspect provider webhook deliveries"}
	webhooks.AddCommand(a.webhookURLCmd(), a.webhookEventsCmd())

	root.AddCommand(bots, webhooks, a.watchCmd(), a.scorecardCmd(), a.triggerCmd(), a.reportCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	logger.Init("meetscore")
	if a.verbose {
		logger.SetOutput(cmd.ErrOrStderr())
	} else {
		logger.SetOutput(io.Discard)
	}

	a.cfg = config.Load()
	if a.apiURL != "" {
		a.cfg.DashboardAPIBaseURL = a.apiURL
	}
	a.client = dashboard.NewClientFromConfig(a.cfg)
	a.session = dashboard.NewSession(a.client, dashboard.OptionsFrom(a.cfg))
	return nil
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every bot, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			renderList(cmd.OutOrStdout(), a.session.List())
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var (
		name   string
		joinAt string
	)
	cmd := &cobra.Command{
		Use:   "create <meeting-url>",
		Short: "Send a bot to a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.CreateBotRequest{MeetingURL: args[0], BotName: name}
			if joinAt != "" {
				at, err := time.Parse(time.RFC3339, joinAt)
				if err != nil {
					return fmt.Errorf("--join-at must be RFC 3339: %w", err)
				}
				req.JoinAt = &at
			}
			bot, err := a.session.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created bot %d (%s)\n", bot.ID, bot.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "Meeting Bot", "display name of the bot in the meeting")
	cmd.Flags().StringVar(&joinAt, "join-at", "", "schedule the bot, e.g. 2026-01-02T15:04:05Z")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one bot, or the selected bot when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			var (
				view dashboard.BotView
				ok   bool
			)
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				view, ok = a.session.Detail(id)
				if !ok {
					return fmt.Errorf("bot %d: %w", id, dashboard.ErrUnknownBot)
				}
			} else if view, ok = a.session.Selected(); !ok {
				return fmt.Errorf("no bot selected, run `meetscore bots select <id>`")
			}
			renderDetail(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func (a *app) selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Make a bot the current detail view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.Select(cmd.Context(), id); err != nil {
				return err
			}
			view, _ := a.session.Detail(id)
			if view.Status == models.BotCompleted && view.Scorecard == nil {
				if rec, err := a.session.FetchScorecard(cmd.Context(), id); err == nil && rec != nil {
					view.Scorecard = rec
				}
			}
			renderDetail(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a bot and everything recorded for it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted bot %d\n", id)
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll unfinished bots and redraw the list until they and their scorecards finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.session.Refresh(ctx); err != nil {
				return err
			}
			return watch(ctx, cmd.OutOrStdout(), a.session, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "redraw interval")
	return cmd
}

func (a *app) scorecardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scorecard <id>",
		Short: "Fetch the scorecard of a meeting, waiting while it is generated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			rec, err := a.session.FetchScorecard(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderScorecard(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

func (a *app) triggerCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "trigger <id>",
		Short: "Start analysis of a completed meeting and wait for its scorecard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.session.Refresh(cmd.Context()); err != nil {
				return err
			}
			resp, err := a.session.TriggerAnalysis(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			if noWait {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rec, err := a.session.AwaitScorecard(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			renderScorecard(out, rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the analysis is triggered")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Show the stored analysis reports of a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := a.session.Report(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func (a *app) webhookURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the webhook URL registered with the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client.GetWebhookURL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.WebhookURL)
			return nil
		},
	}
}

func (a *app) webhookEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent webhook deliveries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := a.client.ListWebhookEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid bot id %q", raw)
	}
	return id, nil
}
