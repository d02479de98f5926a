package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// RSSI thresholds for colouring, in dBm.
const (
	rssiGood = -60
	rssiFair = -75
)

var (
	goodColor    = color.New(color.FgGreen).SprintFunc()
	fairColor    = color.New(color.FgYellow).SprintFunc()
	poorColor    = color.New(color.FgRed).SprintFunc()
	headingColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	hintColor    = color.New(color.Faint).SprintFunc()
)

func validateOutputFormat(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	}
	return fmt.Errorf("invalid --output %q: expected %s or %s", format, outputTable, outputJSON)
}

func writeJSONOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func colorRSSI(rssi int) string {
	s := strconv.Itoa(rssi)
	switch {
	case rssi >= rssiGood:
		return goodColor(s)
	case rssi >= rssiFair:
		return fairColor(s)
	default:
		return poorColor(s)
	}
}

func displaySSID(ssid string, hidden bool) string {
	if hidden || ssid == "" {
		return hintColor("<hidden>")
	}
	return ssid
}

func displaySecurity(security []string) string {
	if len(security) == 0 {
		return "open"
	}
	return strings.Join(security, ",")
}

// printCandidates renders a candidate list. The best candidate is
// highlighted when the list is scored.
func printCandidates(w io.Writer, resp apihandlers.CandidateListResponse) error {
	fmt.Fprintf(w, "%s %s: %d candidate(s)\n", headingColor("Interface"), resp.Interface, resp.Count)
	if resp.Count == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "BSSID", "SSID", "Ch", "Band", "RSSI", "Score", "Auth", "Cipher", "Age")
	for i := range resp.Candidates {
		c := &resp.Candidates[i]
		score := "-"
		if resp.Scored {
			score = strconv.Itoa(c.Score)
			if i == 0 {
				score = goodColor(score)
			}
		}
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			c.BSSID,
			displaySSID(c.SSID, c.Hidden),
			strconv.Itoa(int(c.Channel)),
			c.Band,
			colorRSSI(c.RSSI),
			score,
			c.NegotiatedSecurity.AuthType.String(),
			c.NegotiatedSecurity.UnicastCipher.String(),
			formatAge(c.AgeMillis),
		})
	}
	return table.Render()
}

// printEntries renders the raw cache contents.
func printEntries(w io.Writer, resp apihandlers.EntryListResponse) error {
	fmt.Fprintf(w, "%s %s: %d entr(ies)\n", headingColor("Interface"), resp.Interface, resp.Count)
	if resp.Count == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("BSSID", "SSID", "Ch", "Freq", "Mode", "RSSI", "Avg", "Security", "Age")
	for i := range resp.Entries {
		e := &resp.Entries[i]
		ch := strconv.Itoa(int(e.Channel))
		if e.ChannelMismatch {
			ch = fairColor(ch + "*")
		}
		_ = table.Append([]string{
			e.BSSID,
			displaySSID(e.SSID, e.Hidden),
			ch,
			strconv.FormatUint(uint64(e.Frequency), 10),
			e.PhyMode,
			colorRSSI(e.RSSI),
			strconv.Itoa(e.AvgRSSI),
			displaySecurity(e.Security),
			formatAge(e.AgeMillis),
		})
	}
	return table.Render()
}

// printInterfaces renders the interface summary.
func printInterfaces(w io.Writer, views []apihandlers.InterfaceView) error {
	table := tablewriter.NewWriter(w)
	table.Header("Interface", "Entries", "Max", "Aging")
	for _, v := range views {
		_ = table.Append([]string{
			v.Name,
			strconv.Itoa(v.NumEntries),
			strconv.Itoa(v.MaxEntries),
			v.AgingTime,
		})
	}
	return table.Render()
}

func formatAge(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
