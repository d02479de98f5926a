package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
)

var (
	entriesIface  string
	entriesSSID   string
	entriesBSSID  string
	entriesOutput string

	flushFilters filterFlags
	flushIface   string
	flushAll     bool
)

// interfacesCmd lists the caches of a running daemon.
var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"ifaces"},
	Short:   "List the interface caches of a running daemon",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validateOutputFormat(entriesOutput); err != nil {
			return err
		}
		client, err := newAPIClientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
		defer cancel()

		var views []apihandlers.InterfaceView
		if err := client.Get(ctx, "/interfaces", &views); err != nil {
			return describeAPIError(err, "interface listing")
		}
		if entriesOutput == outputJSON {
			return writeJSONOutput(cmd.OutOrStdout(), views)
		}
		return printInterfaces(cmd.OutOrStdout(), views)
	},
}

// entriesCmd lists the cached entries of one interface.
var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List cached scan entries of a running daemon",
	Long: `List the scan entries currently cached for an interface, in cache
order. Channels flagged with * were observed on a different channel than
the one the BSS advertises.`,
	Example: `  scancache entries
  scancache entries --iface wlan1 --ssid lab
  scancache entries --output json`,
	Args: cobra.NoArgs,
	RunE: runEntries,
}

// flushCmd removes entries from a running daemon.
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush cached scan entries of a running daemon",
	Long: `Remove cached entries matching the filter flags. Without filter flags
--all is required to empty the cache.`,
	Example: `  scancache flush --ssid guest
  scancache flush --bssid 02:00:00:00:00:01
  scancache flush --iface wlan1 --all`,
	Args: cobra.NoArgs,
	RunE: runFlush,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(flushCmd)

	interfacesCmd.Flags().StringVarP(&entriesOutput, "output", "o", outputTable, "output format: table or json")

	entriesCmd.Flags().StringVarP(&entriesIface, "iface", "i", defaultInterface, "interface to list")
	entriesCmd.Flags().StringVar(&entriesSSID, "ssid", "", "only entries with this SSID")
	entriesCmd.Flags().StringVar(&entriesBSSID, "bssid", "", "only the entry with this BSSID")
	entriesCmd.Flags().StringVarP(&entriesOutput, "output", "o", outputTable, "output format: table or json")

	flushCmd.Flags().AddFlagSet(flushFilters.flagSet())
	flushCmd.Flags().StringVarP(&flushIface, "iface", "i", defaultInterface, "interface to flush")
	flushCmd.Flags().BoolVar(&flushAll, "all", false, "flush every entry of the interface")
}

func runEntries(cmd *cobra.Command, _ []string) error {
	if err := validateOutputFormat(entriesOutput); err != nil {
		return err
	}
	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
	defer cancel()

	endpoint := "/interfaces/" + url.PathEscape(entriesIface) + "/entries"
	query := url.Values{}
	if entriesSSID != "" {
		query.Set("ssid", entriesSSID)
	}
	if entriesBSSID != "" {
		query.Set("bssid", entriesBSSID)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var resp apihandlers.EntryListResponse
	if err := client.Get(ctx, endpoint, &resp); err != nil {
		return describeAPIError(err, "entry listing")
	}
	if entriesOutput == outputJSON {
		return writeJSONOutput(cmd.OutOrStdout(), resp)
	}
	return printEntries(cmd.OutOrStdout(), resp)
}

func runFlush(cmd *cobra.Command, _ []string) error {
	filtered := flushFilters.isSet()
	if filtered == flushAll {
		return fmt.Errorf("pass either filter flags or --all")
	}

	var payload any
	if filtered {
		f, err := flushFilters.filter()
		if err != nil {
			return err
		}
		payload = apihandlers.NewCandidateRequest(f, 0)
	}

	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
	defer cancel()

	var resp apihandlers.FlushResponse
	if err := client.Post(ctx, "/interfaces/"+url.PathEscape(flushIface)+"/flush", payload, &resp); err != nil {
		return describeAPIError(err, "flush")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entr(ies) from %s\n", resp.Removed, resp.Interface)
	return nil
}
