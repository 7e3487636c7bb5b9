// Command printctl drives a print-station server from the terminal
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// Version is set during build via ldflags
var Version = "dev"

// outputFormatter prints results as JSON or human-readable text
type outputFormatter struct {
	jsonMode bool
	w        io.Writer
}

func newOutputFormatter(cmd *cobra.Command) *outputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &outputFormatter{jsonMode: jsonMode, w: cmd.OutOrStdout()}
}

// JSON writes v as indented JSON
func (f *outputFormatter) JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.w, string(data))
	return nil
}

// Success prints message, or v in JSON mode
func (f *outputFormatter) Success(message string, v interface{}) error {
	if f.jsonMode {
		return f.JSON(v)
	}
	fmt.Fprintln(f.w, message)
	return nil
}

func clientFor(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = defaultServerURL
	}
	return newAPIClient(server)
}

func newRootCommand() *cobra.Command {
	server := os.Getenv("PRINTSTATION_SERVER")
	if server == "" {
		server = defaultServerURL
	}

	root := &cobra.Command{
		Use:           "printctl",
		Short:         "Print station CLI",
		Long:          "printctl submits fiscal notes to a print-station server and manages its queue.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.PersistentFlags().StringP("server", "s", server, "Server URL")
	root.PersistentFlags().Bool("json", false, "Output in JSON format")

	root.AddCommand(
		newSubmitCommand(),
		newPendingCommand(),
		newPrintedCommand(),
		newFailCommand(),
		newClaimCommand(),
		newReleaseCommand(),
		newHistoryCommand(),
		newProfilesCommand(),
		newPortsCommand(),
		newSetIPCommand(),
		newWatchCommand(),
		newDashboardCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
