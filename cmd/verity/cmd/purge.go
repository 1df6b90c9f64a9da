package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one retention purge sweep",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodPost, "/audit/purge", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running purge: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var stats struct {
			Scanned  int `json:"scanned"`
			Redacted int `json:"redacted"`
			Held     int `json:"held"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Scanned %d, redacted %d, held %d\n", stats.Scanned, stats.Redacted, stats.Held)
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
