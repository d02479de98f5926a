package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/scancache"
)

const defaultInterface = "wlan0"

var (
	candidateFilters   filterFlags
	candidatesIface    string
	candidatesLimit    int
	candidatesOutput   string
	candidatesKeepTime bool
)

var observationValidator = validator.New(validator.WithRequiredStructEnabled())

// candidatesCmd ranks connection candidates.
var candidatesCmd = &cobra.Command{
	Use:   "candidates [FILE]",
	Short: "Rank connection candidates",
	Long: `Rank connection candidates with the configured scoring model.

With a FILE argument the observations in the file are loaded into a
throwaway cache and ranked locally; no daemon is needed. The file holds a
JSON array of observations or an object with an "observations" array, the
same body the daemon accepts on /interfaces/{iface}/observations. Use "-"
to read from stdin.

Without FILE the candidates of a running daemon are queried.`,
	Example: `  scancache candidates capture.json --ssid lab
  scancache candidates capture.json --auth sae,rsn-psk --cipher aes --limit 3
  scancache candidates --server http://127.0.0.1:8080 --iface wlan1 --ssid lab
  scancache candidates capture.json --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCandidates,
}

func init() {
	rootCmd.AddCommand(candidatesCmd)

	candidatesCmd.Flags().AddFlagSet(candidateFilters.flagSet())
	candidatesCmd.Flags().StringVarP(&candidatesIface, "iface", "i", defaultInterface, "interface to query")
	candidatesCmd.Flags().IntVarP(&candidatesLimit, "limit", "n", 0, "maximum candidates to show (0 = all)")
	candidatesCmd.Flags().StringVarP(&candidatesOutput, "output", "o", outputTable, "output format: table or json")
	candidatesCmd.Flags().BoolVar(&candidatesKeepTime, "keep-timestamps", false,
		"keep observed_at from the file instead of treating every observation as fresh")
}

func runCandidates(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(candidatesOutput); err != nil {
		return err
	}
	if candidatesLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	f, err := candidateFilters.filter()
	if err != nil {
		return err
	}

	var resp apihandlers.CandidateListResponse
	if len(args) == 1 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		observations, err := readObservations(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		var rejected []apihandlers.IngestRejection
		resp, rejected, err = rankOffline(cfg, candidatesIface, observations, f, candidatesLimit, candidatesKeepTime)
		if err != nil {
			return err
		}
		for _, r := range rejected {
			logging.Warn("Skipped observation", "index", r.Index, "bssid", r.BSSID, "error", r.Error)
		}
	} else {
		client, err := newAPIClientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), apiRequestTimeout)
		defer cancel()
		req := apihandlers.NewCandidateRequest(f, candidatesLimit)
		if err := client.Post(ctx, "/interfaces/"+url.PathEscape(candidatesIface)+"/candidates", req, &resp); err != nil {
			return describeAPIError(err, "candidate query")
		}
	}

	if candidatesOutput == outputJSON {
		return writeJSONOutput(cmd.OutOrStdout(), resp)
	}
	return printCandidates(cmd.OutOrStdout(), resp)
}

// readObservations loads path, or stdin for "-".
func readObservations(path string, stdin io.Reader) ([]scancache.Observation, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // operator supplied path
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}

	var list []scancache.Observation
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped apihandlers.IngestRequest
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse observations: %w", err)
	}
	return wrapped.Observations, nil
}

// rankOffline ingests observations into a fresh cache built from cfg and
// returns its candidates for f. Observations that fail validation are
// reported and skipped.
func rankOffline(
	cfg *config.Config,
	iface string,
	observations []scancache.Observation,
	f scancache.Filter,
	limit int,
	keepTimestamps bool,
) (apihandlers.CandidateListResponse, []apihandlers.IngestRejection, error) {
	opts := cfg.CacheOptions()
	opts.Logger = logging.Default()
	manager := scancache.NewManager(opts)
	manager.SetScoringConfig(cfg.Scoring)

	resp := apihandlers.CandidateListResponse{Interface: iface, Scored: !f.SkipScoring}
	c, err := manager.Add(iface)
	if err != nil {
		return resp, nil, err
	}

	var rejected []apihandlers.IngestRejection
	for i := range observations {
		obs := observations[i]
		if !keepTimestamps {
			obs.ObservedAt = time.Time{}
		}
		err := observationValidator.Struct(&obs)
		if err == nil {
			var entry *scancache.Entry
			if entry, err = obs.Entry(); err == nil {
				err = c.Ingest(entry)
			}
		}
		if err != nil {
			rejected = append(rejected, apihandlers.IngestRejection{
				Index: i,
				BSSID: obs.BSSID.String(),
				Error: err.Error(),
			})
		}
	}

	list, err := c.GetCandidates(&f)
	if err != nil {
		return resp, rejected, err
	}
	defer list.Release()

	now := time.Now()
	resp.Candidates = make([]apihandlers.CandidateView, 0, len(list))
	for _, cand := range list {
		if limit > 0 && len(resp.Candidates) == limit {
			break
		}
		resp.Candidates = append(resp.Candidates, apihandlers.NewCandidateView(cand, now))
	}
	resp.Count = len(resp.Candidates)
	return resp, rejected, nil
}
