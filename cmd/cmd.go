// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ollama/treeserve/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-34s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "treeserve",
		Short:         "Continuous batching server with speculative tree decoding",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	serveCmd := newServeCmd()
	submitCmd := newSubmitCmd()
	pollCmd := newPollCmd()
	abortCmd := newAbortCmd()
	psCmd := newPsCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["TREESERVE_HOST"]}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		submitCmd,
		pollCmd,
		abortCmd,
		psCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["TREESERVE_CONFIG"],
				envVars["TREESERVE_DEBUG"],
				envVars["TREESERVE_HOST"],
				envVars["TREESERVE_ORIGINS"],
				envVars["TREESERVE_MAX_REQUESTS_PER_BATCH"],
				envVars["TREESERVE_MAX_TOKENS_PER_BATCH"],
				envVars["TREESERVE_PREFILL_CHUNK"],
				envVars["TREESERVE_MAX_SEQ_LENGTH"],
				envVars["TREESERVE_KV_CACHE_TYPE"],
				envVars["TREESERVE_HIDDEN_SIZE"],
				envVars["TREESERVE_MAX_SPEC_TREE_TOKENS"],
				envVars["TREESERVE_NO_SPECULATION"],
				envVars["TREESERVE_MAX_QUEUE"],
				envVars["TREESERVE_KEEP_FINISHED"],
				envVars["TREESERVE_MODEL"],
				envVars["TREESERVE_VOCAB_SIZE"],
				envVars["TREESERVE_DRAFT_ACCURACY"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		submitCmd,
		pollCmd,
		abortCmd,
		psCmd,
	)

	return rootCmd
}
