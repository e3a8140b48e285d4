// cmd_list.go - PS Command
// Hauptfunktionen: ListRequestsHandler
package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/treeserve/api"
)

// ListRequestsHandler - Listet alle Requests des Servers auf
func ListRequestsHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string

	for _, r := range resp.Requests {
		if len(args) == 0 || strings.HasPrefix(r.ID, args[0]) {
			slot := "-"
			if r.Slot >= 0 {
				slot = strconv.Itoa(r.Slot)
			}

			status := r.Status
			if r.DoneReason != "" {
				status += " (" + r.DoneReason + ")"
			}

			data = append(data, []string{
				r.ID,
				status,
				slot,
				fmt.Sprintf("%d/%d", r.CommittedDepth, r.MaxLength),
				strconv.Itoa(r.Generated),
				fmt.Sprintf("%.0f%%", r.AcceptanceRate*100),
				r.Age.Round(time.Second).String(),
			})
		}
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "STATUS", "SLOT", "DEPTH", "GENERATED", "ACCEPTED", "AGE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newPsCmd - Erstellt den ps Command
func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ps [ID]",
		Short:   "List requests",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListRequestsHandler,
	}
}
