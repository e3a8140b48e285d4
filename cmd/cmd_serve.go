// cmd_serve.go - Server-Start und Version
// Hauptfunktionen: RunServer, versionHandler, checkServerHeartbeat
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ollama/treeserve/api"
	"github.com/ollama/treeserve/envconfig"
	"github.com/ollama/treeserve/server"
)

// RunServer - Startet den treeserve-Server
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt Client- und Server-Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	out := cmd.OutOrStdout()
	health, err := client.Health(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, "Warning: could not connect to a running treeserve instance")
	}

	if health != nil && health.Version != "" {
		fmt.Fprintf(out, "treeserve version is %s\n", health.Version)
		if health.Version != api.Version {
			fmt.Fprintf(out, "Warning: client version is %s\n", api.Version)
		}
		return
	}

	fmt.Fprintf(out, "client version is %s\n", api.Version)
}

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if _, err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("treeserve server not responding - %w", err)
	}
	return nil
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start treeserve",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
