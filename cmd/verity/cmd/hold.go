package cmd

import (
	"bytes"
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

var holdCmd = &cobra.Command{
	Use:   "legal-hold",
	Short: "Manage legal holds",
}

var holdSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Place a legal hold (sequence 0 holds the whole tenant log)",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		seq, _ := cmd.Flags().GetUint64("sequence")
		reason, _ := cmd.Flags().GetString("reason")

		body, _ := json.Marshal(domain.LegalHold{
			TenantID: domain.TenantID(tenant),
			Sequence: seq,
			Reason:   reason,
		})
		resp, err := doRequest(http.MethodPut, "/audit/legal-hold", bytes.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting hold: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}
		if seq == 0 {
			fmt.Printf("Hold placed on all of tenant %s\n", tenant)
		} else {
			fmt.Printf("Hold placed on tenant %s sequence %d\n", tenant, seq)
		}
	},
}

var holdClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a legal hold",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		seq, _ := cmd.Flags().GetUint64("sequence")

		q := url.Values{}
		q.Set("tenant_id", tenant)
		q.Set("sequence", fmt.Sprint(seq))
		resp, err := doRequest(http.MethodDelete, "/audit/legal-hold?"+q.Encode(), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing hold: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			fail(resp)
		}
		fmt.Println("Hold cleared")
	},
}

var holdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active legal holds",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		resp, err := doRequest(http.MethodGet, "/audit/legal-hold?tenant_id="+url.QueryEscape(tenant), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing holds: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var listing struct {
			Holds []domain.LegalHold `json:"holds"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SEQUENCE\tREASON\tCREATED")
		for _, h := range listing.Holds {
			scope := fmt.Sprint(h.Sequence)
			if h.Sequence == 0 {
				scope = "all"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", scope, h.Reason, h.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

func init() {
	holdSetCmd.Flags().Uint64("sequence", 0, "Sequence number to hold (0 for the whole log)")
	holdSetCmd.Flags().String("reason", "", "Reason for the hold")
	holdClearCmd.Flags().Uint64("sequence", 0, "Sequence number to release (0 for the whole log)")
	holdCmd.AddCommand(holdSetCmd, holdClearCmd, holdListCmd)
	rootCmd.AddCommand(holdCmd)
}
