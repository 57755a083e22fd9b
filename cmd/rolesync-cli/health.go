package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check if the server is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		url := serverURL + "/health"
		fmt.Fprintf(out, "checking %s ...\n", url)

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(out, "status: %d\n", resp.StatusCode)
		if len(body) > 0 {
			fmt.Fprintf(out, "body:   %s\n", string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		fmt.Fprintln(out, "server is healthy")
		return nil
	},
}

func init() { //nolint: gochecknoinits
	healthCmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.AddCommand(healthCmd)
}
