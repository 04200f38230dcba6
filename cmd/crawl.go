package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// newCrawlCmd runs one manual crawl cycle and prints the per-source outcomes.
func newCrawlCmd() *cobra.Command {
	var projectID, sourceID string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Trigger a manual crawl for one project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			outcomes, err := appInstance.Scheduler.TriggerCrawl(cmd.Context(), projectID, sourceID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"project_id": projectID, "outcomes": outcomes})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&sourceID, "source", "", "restrict the run to one source")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newRelevanceCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "relevance",
		Short: "Show source relevance scores for a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			scores, err := appInstance.Scheduler.GetRelevance(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"project_id": projectID, "scores": scores})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		projectID string
		limit     int
		statuses  []string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent crawl events for a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter := make([]crawl.Status, 0, len(statuses))
			for _, s := range statuses {
				st := crawl.Status(strings.TrimSpace(s))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}
			events, err := appInstance.Scheduler.GetRecentEvents(cmd.Context(), projectID, limit, filter...)
			if err != nil {
				return err
			}
			if events == nil {
				events = []crawl.Event{}
			}
			return printJSON(cmd, map[string]any{"project_id": projectID, "events": events})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only these statuses (ok, fail, error)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Enable or disable a source for a project",
	}
	cmd.AddCommand(newSourceToggleCmd("enable", true), newSourceToggleCmd("disable", false))
	return cmd
}

func newSourceToggleCmd(use string, active bool) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   use + " SOURCE_ID",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Scheduler.SetSourceActive(cmd.Context(), projectID, args[0], active); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"project_id": projectID, "source_id": args[0], "active": active})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
