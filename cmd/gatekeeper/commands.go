package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/gatekeeper/internal/export"
)

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show membership statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Total    int `json:"total"`
			Pending  int `json:"pending"`
			Approved int `json:"approved"`
			Rejected int `json:"rejected"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Total users", "%d", stats.Total)
		printStatus("Pending requests", "%d", stats.Pending)
		printStatus("Approved", "%d", stats.Approved)
		printStatus("Rejected", "%d", stats.Rejected)
		return nil
	},
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users and their admission state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users")
		if err != nil {
			return err
		}

		var users []struct {
			ID       int64     `json:"id"`
			Username string    `json:"username"`
			State    string    `json:"state"`
			JoinedAt time.Time `json:"joined_at"`
		}
		if err := decodeJSON(resp, &users); err != nil {
			return err
		}

		if len(users) == 0 {
			fmt.Println("no users yet")
			return nil
		}
		for _, u := range users {
			name := u.Username
			if name == "" {
				name = fmt.Sprintf("id:%d", u.ID)
			}
			fmt.Printf("%-24s %-18s %s\n", name, u.State, u.JoinedAt.Format("2006-01-02"))
		}
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export user data as CSV",
	Long: `Export user data as CSV.

By default the CSV is written to the current directory. With --upload the
server exports and pushes the file to the configured Drive folder instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		upload, _ := cmd.Flags().GetBool("upload")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if upload {
			resp, err := client.post(cmd.Context(), "/export", nil)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Exported and uploaded %s", result["file"])
			return nil
		}

		resp, err := client.get(cmd.Context(), "/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
		}

		if output == "" {
			output = export.FileName
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}

		printSuccess("Wrote %s", output)
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("upload", false, "export on the server and upload to Drive")
	exportCmd.Flags().StringP("output", "o", "", "output file path (default "+export.FileName+")")
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect or start transcription jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active transcription job",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/active")
		if err != nil {
			return err
		}

		var jr struct {
			Phase string `json:"phase"`
			Job   *struct {
				ArtifactPath string    `json:"artifact_path"`
				Progress     float64   `json:"progress"`
				StartedAt    time.Time `json:"started_at"`
			} `json:"job"`
		}
		if err := decodeJSON(resp, &jr); err != nil {
			return err
		}

		printStatus("Phase", "%s", jr.Phase)
		if jr.Job != nil {
			printStatus("File", "%s", jr.Job.ArtifactPath)
			printStatus("Elapsed", "%.1f minutes", time.Since(jr.Job.StartedAt).Minutes())
		}
		return nil
	},
}

var jobStartCmd = &cobra.Command{
	Use:   "start <audio-file>",
	Short: "Start a transcription job for a local audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs", map[string]string{"path": args[0]})
		if err != nil {
			return err
		}

		var jr struct {
			Phase string `json:"phase"`
		}
		if err := decodeJSON(resp, &jr); err != nil {
			return err
		}

		printSuccess("Started transcription of %s", args[0])
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobStartCmd)
}
