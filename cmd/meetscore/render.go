package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/dashboard"
)

const timeLayout = "2006-01-02 15:04"

func renderList(w io.Writer, bots []dashboard.BotView) {
	if len(bots) == 0 {
		fmt.Fprintln(w, "No bots yet. Create one with `meetscore bots create <meeting-url>`.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tSTATUS\tMEETING\tCREATED\tSCORE")
	for _, b := range bots {
		marker := ""
		if b.Selected {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			marker, b.ID, orDash(b.BotName()), statusLabel(b), b.MeetingURL,
			b.CreatedAt.Local().Format(timeLayout), scoreLabel(b))
	}
	tw.Flush()
}

func renderDetail(w io.Writer, b dashboard.BotView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Bot\t%d\n", b.ID)
	fmt.Fprintf(tw, "Name\t%s\n", orDash(b.BotName()))
	fmt.Fprintf(tw, "Status\t%s\n", statusLabel(b))
	fmt.Fprintf(tw, "Meeting\t%s\n", b.MeetingURL)
	fmt.Fprintf(tw, "Provider bot\t%s\n", orDash(b.BotID))
	if at := b.JoinAt(); at != nil {
		fmt.Fprintf(tw, "Joins at\t%s\n", at.Local().Format(timeLayout))
	}
	fmt.Fprintf(tw, "Created\t%s\n", b.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(tw, "Updated\t%s\n", b.UpdatedAt.Local().Format(timeLayout))
	tw.Flush()

	switch {
	case b.Scorecard != nil:
		fmt.Fprintln(w)
		renderScorecard(w, b.Scorecard)
	case b.Status == models.BotCompleted:
		fmt.Fprintln(w, "\nScorecard not loaded yet.")
	case b.Status == models.BotFailed:
		fmt.Fprintln(w, "\nThe bot failed, no scorecard will be generated.")
	}
}

func renderScorecard(w io.Writer, rec *models.ScorecardRecord) {
	if rec == nil {
		fmt.Fprintln(w, "Scorecard is still being generated.")
		return
	}
	if rec.Scorecard == nil {
		fmt.Fprintf(w, "Scorecard %s: %s\n", strings.ToLower(string(rec.Status)), rec.Message)
		return
	}

	sc := rec.Scorecard
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Overall\t%.1f / 10\n", sc.OverallScore)
	fmt.Fprintf(tw, "Engagement\t%.1f / 10\n", sc.EngagementScore)
	fmt.Fprintf(tw, "Effectiveness\t%.1f / 10\n", sc.MeetingEffectiveness)
	fmt.Fprintf(tw, "Sentiment\t%s\n", orDash(sc.Sentiment))
	fmt.Fprintf(tw, "Participants\t%s\n", orDash(strings.Join(sc.Participants, ", ")))
	tw.Flush()

	if sc.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", sc.Summary)
	}
	renderSection(w, "Key topics", sc.KeyTopics)
	renderSection(w, "Action items", sc.ActionItems)
	renderSection(w, "Insights", sc.Insights)
	renderSection(w, "Recommendations", sc.Recommendations)
}

func renderSection(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func renderReport(w io.Writer, resp *models.ReportResponse) {
	fmt.Fprintf(w, "Meeting %d (%s)\n", resp.MeetingID, resp.Status)
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	for _, r := range resp.Reports {
		card := r.Score
		fmt.Fprintf(w, "\nReport %d, %s\n", r.ID, r.CreatedAt.Local().Format(timeLayout))
		renderScorecard(w, &models.ScorecardRecord{MeetingID: r.MeetingID, Status: models.ScorecardAvailable, Scorecard: &card})
	}
}

func renderEvents(w io.Writer, events []models.WebhookEventView) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No webhook deliveries recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tTYPE\tBOT\tMEETING\tRESULT")
	for _, e := range events {
		meeting := "-"
		if e.MeetingID != nil {
			meeting = fmt.Sprint(*e.MeetingID)
		}
		result := "processed"
		switch {
		case e.DeliveryError != "":
			result = "failed: " + e.DeliveryError
		case !e.Processed:
			result = "pending"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format(timeLayout), e.EventType, orDash(e.BotID), meeting, result)
	}
	tw.Flush()
}

// watch redraws the list every interval until no bot is left unfinished,
// including scorecard fetches, or ctx ends.
func watch(ctx context.Context, w io.Writer, session *dashboard.Session, every time.Duration) error {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		fmt.Fprintf(w, "\n%s\n", time.Now().Local().Format("15:04:05"))
		bots := session.List()
		renderList(w, bots)
		if err := session.LastError(); err != nil {
			fmt.Fprintln(w, "Last error:", err)
		}
		if allFinished(bots) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func allFinished(bots []dashboard.BotView) bool {
	for _, b := range bots {
		if !b.Status.IsTerminal() || b.Polling || b.Fetching {
			return false
		}
	}
	return true
}

func statusLabel(b dashboard.BotView) string {
	label := string(b.Status)
	if b.Stuck {
		label += " (stuck?)"
	}
	return label
}

func scoreLabel(b dashboard.BotView) string {
	rec := b.Scorecard
	switch {
	case rec != nil && rec.Scorecard != nil:
		return fmt.Sprintf("%.1f", rec.Scorecard.OverallScore)
	case b.Fetching:
		return "..."
	case rec != nil:
		return strings.ToLower(string(rec.Status))
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
