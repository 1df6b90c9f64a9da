package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verity-sec/verity/pkg/domain"
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an audit event",
	Run: func(cmd *cobra.Command, args []string) {
		requireTenant()
		eventType, _ := cmd.Flags().GetString("type")
		name, _ := cmd.Flags().GetString("name")
		resourceType, _ := cmd.Flags().GetString("resource-type")
		resourceID, _ := cmd.Flags().GetString("resource-id")
		actor, _ := cmd.Flags().GetString("actor")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		detailsJSON, _ := cmd.Flags().GetString("details")

		event := domain.Event{
			TenantID:       domain.TenantID(tenant),
			Type:           domain.EventType(strings.ToUpper(eventType)),
			Name:           name,
			ResourceType:   resourceType,
			ResourceID:     resourceID,
			ActorUserID:    actor,
			ComplianceTags: tags,
		}
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing --details: %v\n", err)
				os.Exit(1)
			}
		}

		body, err := json.Marshal(event)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding event: %v\n", err)
			os.Exit(1)
		}

		resp, err := doRequest(http.MethodPost, "/audit/events", bytes.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error appending event: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			fail(resp)
		}

		var out struct {
			ID             string `json:"id"`
			SequenceNumber uint64 `json:"sequence_number"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Appended entry %s at sequence %d\n", out.ID, out.SequenceNumber)
	},
}

func init() {
	appendCmd.Flags().String("type", "", "Event type (ACCESS, CREATE, UPDATE, DELETE, AUTH, SECURITY, COMPLIANCE)")
	appendCmd.Flags().String("name", "", "Dotted event name, e.g. document.viewed")
	appendCmd.Flags().String("resource-type", "", "Resource type")
	appendCmd.Flags().String("resource-id", "", "Resource ID")
	appendCmd.Flags().String("actor", "", "Acting user ID (empty for system events)")
	appendCmd.Flags().StringSlice("tag", nil, "Compliance tag (repeatable)")
	appendCmd.Flags().String("details", "", "Event details as a JSON object")
	_ = appendCmd.MarkFlagRequired("type")
	_ = appendCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(appendCmd)
}
