package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/verity-sec/verity/pkg/domain"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		q := url.Values{}
		q.Set("tenant_id", tenant)
		if start, _ := cmd.Flags().GetUint64("start"); start > 0 {
			q.Set("start", fmt.Sprint(start))
		}
		if end, _ := cmd.Flags().GetUint64("end"); end > 0 {
			q.Set("end", fmt.Sprint(end))
		}

		resp, err := doRequest(http.MethodGet, "/audit/verify?"+q.Encode(), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying chain: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var result domain.VerificationResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		if result.Verified {
			fmt.Printf("OK: %d entries verified for tenant %s\n", result.Scanned, result.TenantID)
			return
		}
		fmt.Printf("FAILED: %d broken link(s) in %d entries\n", len(result.BrokenLinks), result.Scanned)
		for _, link := range result.BrokenLinks {
			fmt.Printf("  seq %d: %s (%s)\n", link.Sequence, link.Kind, link.Details)
		}
		os.Exit(2)
	},
}

func init() {
	verifyCmd.Flags().Uint64("start", 0, "First sequence to verify (default 1)")
	verifyCmd.Flags().Uint64("end", 0, "Last sequence to verify (default chain head)")
	rootCmd.AddCommand(verifyCmd)
}
