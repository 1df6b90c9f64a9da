package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs as json, csv or siem (CEF)",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		q := url.Values{}
		q.Set("tenant_id", tenant)
		q.Set("format", format)
		for _, pair := range []struct{ flag, param string }{
			{"type", "event_type"},
			{"tag", "compliance_tag"},
			{"start", "start"},
			{"end", "end"},
		} {
			if v, _ := cmd.Flags().GetString(pair.flag); v != "" {
				q.Set(pair.param, v)
			}
		}

		resp, err := doRequest(http.MethodGet, "/audit/export?"+q.Encode(), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting logs: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		out := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", output, err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "Export format: json, csv or siem")
	exportCmd.Flags().String("output", "", "Output file (default stdout)")
	exportCmd.Flags().String("type", "", "Filter by event type")
	exportCmd.Flags().String("tag", "", "Filter by compliance tag")
	exportCmd.Flags().String("start", "", "Start of time range (RFC 3339)")
	exportCmd.Flags().String("end", "", "End of time range (RFC 3339)")
	rootCmd.AddCommand(exportCmd)
}
