package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verity-sec/verity/pkg/domain"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query audit log entries",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		q := url.Values{}
		q.Set("tenant_id", tenant)
		for _, pair := range []struct{ flag, param string }{
			{"type", "event_type"},
			{"resource-type", "resource_type"},
			{"resource-id", "resource_id"},
			{"tag", "compliance_tag"},
			{"start", "start"},
			{"end", "end"},
			{"cursor", "cursor"},
		} {
			if v, _ := cmd.Flags().GetString(pair.flag); v != "" {
				q.Set(pair.param, v)
			}
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}

		resp, err := doRequest(http.MethodGet, "/audit/logs?"+q.Encode(), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error querying logs: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var page struct {
			Entries    []domain.Entry `json:"entries"`
			NextCursor string         `json:"next_cursor"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(page)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tNAME\tACTOR\tCREATED\tREDACTED")
		for _, e := range page.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\n",
				e.SequenceNumber,
				e.EventType,
				e.EventName,
				e.ActorUserID,
				e.CreatedAt.Format(time.RFC3339),
				e.Redacted,
			)
		}
		w.Flush()
		if page.NextCursor != "" {
			fmt.Printf("\nNext cursor: %s\n", page.NextCursor)
		}
	},
}

func init() {
	logsCmd.Flags().String("type", "", "Filter by event type")
	logsCmd.Flags().String("resource-type", "", "Filter by resource type")
	logsCmd.Flags().String("resource-id", "", "Filter by resource ID")
	logsCmd.Flags().String("tag", "", "Filter by compliance tag")
	logsCmd.Flags().String("start", "", "Start of time range (RFC 3339)")
	logsCmd.Flags().String("end", "", "End of time range (RFC 3339)")
	logsCmd.Flags().String("cursor", "", "Resume from a pagination cursor")
	logsCmd.Flags().Int("limit", 0, "Page size")
	logsCmd.Flags().Bool("json", false, "Print the raw JSON page")
	rootCmd.AddCommand(logsCmd)
}
