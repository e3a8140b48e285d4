// cmd_requests.go - Submit, Poll und Abort Commands
// Hauptfunktionen: SubmitHandler, PollHandler, AbortHandler
package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/treeserve/api"
)

// parseTokens - Wandelt Argumente in Token-IDs um. Kommas trennen wie Leerzeichen.
func parseTokens(args []string) ([]int32, error) {
	var tokens []int32
	for _, arg := range args {
		for _, s := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid token %q", s)
			}
			tokens = append(tokens, int32(n))
		}
	}
	return tokens, nil
}

// formatTokens - Gibt Token-IDs durch Leerzeichen getrennt aus
func formatTokens(tokens []int32) string {
	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(t)))
	}
	return sb.String()
}

// SubmitHandler - Reicht einen Request ein und gibt die ID aus
func SubmitHandler(cmd *cobra.Command, args []string) error {
	prompt, err := parseTokens(args)
	if err != nil {
		return err
	}

	req := api.SubmitRequest{Prompt: prompt}
	req.MaxNewTokens, _ = cmd.Flags().GetInt("max-new")
	req.MaxLength, _ = cmd.Flags().GetInt("max-length")

	stop, _ := cmd.Flags().GetStringSlice("stop")
	if req.Stop, err = parseTokens(stop); err != nil {
		return err
	}

	if spec, _ := cmd.Flags().GetBool("spec"); spec {
		branching, _ := cmd.Flags().GetInt("branching")
		depth, _ := cmd.Flags().GetInt("depth")
		req.Speculation = &api.SpecOptions{Enabled: true, BranchingFactor: branching, Depth: depth}
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.Submit(cmd.Context(), &req)
	if err != nil {
		return err
	}

	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		return follow(cmd, client, resp.ID)
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.ID)
	return nil
}

// PollHandler - Gibt neue Tokens eines Requests aus
func PollHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		return follow(cmd, client, args[0])
	}

	resp, err := client.Poll(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	printPoll(cmd.OutOrStdout(), resp)
	return nil
}

// follow - Pollt bis der Request beendet ist
func follow(cmd *cobra.Command, client *api.Client, id string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	out := cmd.OutOrStdout()
	for {
		resp, err := client.Poll(cmd.Context(), id)
		if err != nil {
			return err
		}

		if len(resp.Tokens) > 0 {
			fmt.Fprintln(out, formatTokens(resp.Tokens))
		}

		if resp.Done {
			printDone(out, resp)
			if resp.Error != "" {
				return fmt.Errorf("request %s: %s", id, resp.Error)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return context.Cause(cmd.Context())
		case <-ticker.C:
		}
	}
}

func printPoll(w io.Writer, resp *api.PollResponse) {
	fmt.Fprintf(w, "%s\t%s\n", resp.Status, formatTokens(resp.Tokens))
	if resp.Done {
		printDone(w, resp)
	}
}

func printDone(w io.Writer, resp *api.PollResponse) {
	fmt.Fprintf(w, "done: %s (generated %d, depth %d, acceptance %.0f%%)\n",
		resp.DoneReason, resp.EvalCount, resp.CommittedDepth, resp.AcceptanceRate()*100)
}

// AbortHandler - Bricht einen Request ab
func AbortHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	for _, id := range args {
		if err := client.Abort(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "aborted '%s'\n", id)
	}
	return nil
}

// newSubmitCmd - Erstellt den submit Command
func newSubmitCmd() *cobra.Command {
	submitCmd := &cobra.Command{
		Use:     "submit TOKEN [TOKEN...]",
		Short:   "Submit a generation request",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    SubmitHandler,
	}

	submitCmd.Flags().Int("max-new", 0, "Maximum number of generated tokens")
	submitCmd.Flags().Int("max-length", 0, "Maximum total length including the prompt")
	submitCmd.Flags().StringSlice("stop", nil, "Token ids that end generation")
	submitCmd.Flags().Bool("spec", false, "Enable speculative tree decoding")
	submitCmd.Flags().Int("branching", 2, "Children per speculative tree node")
	submitCmd.Flags().Int("depth", 3, "Depth of the speculative tree")
	submitCmd.Flags().Bool("wait", false, "Follow the request until it is done")
	submitCmd.Flags().Duration("interval", 100*time.Millisecond, "Poll interval with --wait")
	return submitCmd
}

// newPollCmd - Erstellt den poll Command
func newPollCmd() *cobra.Command {
	pollCmd := &cobra.Command{
		Use:     "poll ID",
		Short:   "Print tokens generated since the last poll",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    PollHandler,
	}

	pollCmd.Flags().Bool("wait", false, "Follow the request until it is done")
	pollCmd.Flags().Duration("interval", 100*time.Millisecond, "Poll interval with --wait")
	return pollCmd
}

// newAbortCmd - Erstellt den abort Command
func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "abort ID [ID...]",
		Short:   "Abort requests",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    AbortHandler,
	}
}
