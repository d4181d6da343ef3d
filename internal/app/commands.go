package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"insightpipe/internal/domain"
	"insightpipe/internal/importer"

	"github.com/spf13/cobra"
)

var (
	importOrg  string
	importFile string
	runOrg     string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import insights from a spreadsheet",
	Long: `Import insights from the first sheet of an .xlsx file. Columns are detected
by header: org, description, sentiment and keywords (comma or semicolon
separated). Rows without an org column use --org. Every fifth insight per
organization triggers a clustering run, exactly as with the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := buildServices(ctx, true)
		if err != nil {
			return err
		}
		defer svc.close()

		im := importer.New(svc.store, svc.sched, svc.log.Entry)
		res, err := im.ImportFile(ctx, importFile, importOrg)
		svc.sched.Wait()
		if err != nil {
			return err
		}

		fmt.Println(formatImportSummary(res))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run clustering and ticket decisions for one organization now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := buildServices(ctx, false)
		if err != nil {
			return err
		}
		defer svc.close()

		run, err := svc.sched.RunNow(ctx, runOrg)
		if errors.Is(err, domain.ErrConcurrentRunConflict) {
			return fmt.Errorf("a run is already in progress for %s", runOrg)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Run %s: %s\n", run.ID, run.Status)
		fmt.Printf("  clusters=%d significant=%d excluded=%d tickets=%d\n",
			run.Clusters, run.Significant, run.Excluded, run.TicketsCreated)
		for _, o := range run.Outcomes {
			mark := "-"
			if o.TicketID != "" {
				mark = "+"
			}
			fmt.Printf("  %s [%s] size=%d negative=%d%% %s\n", mark, o.ClusterLabel, o.ClusterSize, o.NegativePercentage, o.Decision.Reason)
		}
		if run.Status == domain.RunDegraded {
			fmt.Fprintln(os.Stderr, "Some clusters could not be evaluated; the retry sweep will pick this organization up.")
		}
		return nil
	},
}

func formatImportSummary(res importer.Result) string {
	orgs := make([]string, 0, len(res.Imported))
	for org := range res.Imported {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Imported %d insights", res.Total())
	if len(orgs) > 0 {
		parts := make([]string, 0, len(orgs))
		for _, org := range orgs {
			parts = append(parts, fmt.Sprintf("%s=%d", org, res.Imported[org]))
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&sb, ", %d runs triggered", res.Triggered)
	if res.Dropped > 0 {
		fmt.Fprintf(&sb, ", %d triggers dropped while a run was in flight", res.Dropped)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&sb, "\nSkipped %d rows:", len(res.Skipped))
		for _, e := range res.Skipped {
			fmt.Fprintf(&sb, "\n  %s", e.Error())
		}
	}
	return sb.String()
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importOrg, "org", "", "Organization for rows without an org column")
	importCmd.Flags().StringVar(&importFile, "file", "", "Path to the .xlsx file")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOrg, "org", "", "Organization to run")
	_ = runCmd.MarkFlagRequired("org")
}
