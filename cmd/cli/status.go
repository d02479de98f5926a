package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
)

var (
	statusOutput    string
	jobsOutput      string
	snapshotsIface  string
	snapshotsLimit  int
	snapshotsOutput string
)

// statusCmd shows the state of a running daemon.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validateOutputFormat(statusOutput); err != nil {
			return err
		}
		client, err := newAPIClientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
		defer cancel()

		var resp apihandlers.StatusResponse
		if err := client.Get(ctx, "/status", &resp); err != nil {
			return describeAPIError(err, "status")
		}
		if statusOutput == outputJSON {
			return writeJSONOutput(cmd.OutOrStdout(), resp)
		}
		return printStatus(cmd.OutOrStdout(), &resp)
	},
}

// jobsCmd lists the maintenance jobs of a running daemon.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the maintenance jobs of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validateOutputFormat(jobsOutput); err != nil {
			return err
		}
		client, err := newAPIClientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
		defer cancel()

		var resp apihandlers.JobListResponse
		if err := client.Get(ctx, "/jobs", &resp); err != nil {
			return describeAPIError(err, "job listing")
		}
		if jobsOutput == outputJSON {
			return writeJSONOutput(cmd.OutOrStdout(), resp)
		}
		return printJobs(cmd.OutOrStdout(), resp)
	},
}

// snapshotsCmd lists persisted cache snapshots.
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List persisted cache snapshots",
	Long: `List cache snapshots stored by the daemon. Requires the telemetry
database to be configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validateOutputFormat(snapshotsOutput); err != nil {
			return err
		}
		client, err := newAPIClientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
		defer cancel()

		query := url.Values{}
		if snapshotsIface != "" {
			query.Set("iface", snapshotsIface)
		}
		if snapshotsLimit > 0 {
			query.Set("limit", strconv.Itoa(snapshotsLimit))
		}
		endpoint := "/snapshots"
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}

		var resp apihandlers.SnapshotListResponse
		if err := client.Get(ctx, endpoint, &resp); err != nil {
			return describeAPIError(err, "snapshot listing")
		}
		if snapshotsOutput == outputJSON {
			return writeJSONOutput(cmd.OutOrStdout(), resp)
		}
		return printSnapshots(cmd.OutOrStdout(), resp)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(snapshotsCmd)

	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputTable, "output format: table or json")
	jobsCmd.Flags().StringVarP(&jobsOutput, "output", "o", outputTable, "output format: table or json")
	snapshotsCmd.Flags().StringVarP(&snapshotsIface, "iface", "i", "", "only snapshots of this interface")
	snapshotsCmd.Flags().IntVarP(&snapshotsLimit, "limit", "n", 0, "maximum snapshots to list")
	snapshotsCmd.Flags().StringVarP(&snapshotsOutput, "output", "o", outputTable, "output format: table or json")
}

func printStatus(w io.Writer, s *apihandlers.StatusResponse) error {
	health := s.Health.Status
	switch health {
	case apihandlers.StatusHealthy:
		health = goodColor(health)
	case apihandlers.StatusUnhealthy:
		health = poorColor(health)
	default:
		health = fairColor(health)
	}

	fmt.Fprintf(w, "%s %s (pid %d)\n", headingColor(s.Service.Name), s.Service.Version, s.Service.PID)
	fmt.Fprintf(w, "Health:     %s\n", health)
	fmt.Fprintf(w, "Uptime:     %s\n", s.Service.Uptime)
	fmt.Fprintf(w, "Go:         %s %s/%s, %d goroutines\n",
		s.System.GoVersion, s.System.OS, s.System.Architecture, s.System.Goroutines)
	fmt.Fprintf(w, "Scoring:    weight sum %d, rssi weight %d, best rssi %d dBm\n",
		s.Scoring.WeightSum, s.Scoring.RSSIWeight, s.Scoring.BestThreshold)

	if len(s.Health.Checks) > 0 {
		names := make([]string, 0, len(s.Health.Checks))
		for name := range s.Health.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-10s %s\n", name+":", s.Health.Checks[name])
		}
	}
	fmt.Fprintln(w)
	return printInterfaces(w, s.Caches)
}

func printJobs(w io.Writer, resp apihandlers.JobListResponse) error {
	if resp.Count == 0 {
		fmt.Fprintln(w, "No maintenance jobs scheduled")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Type", "Schedule", "Enabled", "Runs", "Last Run", "Next Run", "Last Error")
	for i := range resp.Jobs {
		j := &resp.Jobs[i]
		enabled := poorColor("no")
		if j.Enabled {
			enabled = goodColor("yes")
		}
		_ = table.Append([]string{
			j.Name,
			j.Type,
			j.Schedule,
			enabled,
			strconv.Itoa(j.RunCount),
			formatTime(j.LastRun),
			formatTime(j.NextRun),
			j.LastError,
		})
	}
	return table.Render()
}

func printSnapshots(w io.Writer, resp apihandlers.SnapshotListResponse) error {
	if resp.Count == 0 {
		fmt.Fprintln(w, "No snapshots stored")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Interface", "Taken", "Entries", "Max")
	for _, s := range resp.Snapshots {
		_ = table.Append([]string{
			s.ID.String(),
			s.Interface,
			formatTime(s.TakenAt),
			strconv.Itoa(s.NumEntries),
			strconv.Itoa(s.MaxEntries),
		})
	}
	return table.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
