package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/anstrom/scancache/internal/scancache"
)

const maxFilterItems = 5

// filterFlags holds the candidate filter options shared by the candidates
// and flush commands.
type filterFlags struct {
	ssids     []string
	bssids    []string
	avoid     []string
	channels  []uint
	auths     []string
	ciphers   []string
	mcCiphers []string
	pmf       string
	bssType   string
	country   string
	bssidHint string

	hintPriority bool
	onlyWMM      bool
	noScore      bool
	ignoreSec    bool
	ignorePMF    bool
	p2p          bool
	maxAge       time.Duration
	mobilityDom  uint16
}

// flagSet returns the filter flags for AddFlagSet.
func (f *filterFlags) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("filter", pflag.ContinueOnError)
	fs.StringSliceVar(&f.ssids, "ssid", nil, "match SSID (repeatable, up to 5)")
	fs.StringSliceVar(&f.bssids, "bssid", nil, "match BSSID (repeatable, up to 5)")
	fs.StringSliceVar(&f.avoid, "avoid-bssid", nil, "never return this BSSID (repeatable, up to 16)")
	fs.UintSliceVar(&f.channels, "channel", nil, "match channel number (repeatable)")
	fs.StringSliceVar(&f.auths, "auth", nil, "acceptable auth types in priority order (e.g. sae,rsn-psk)")
	fs.StringSliceVar(&f.ciphers, "cipher", nil, "acceptable unicast ciphers (e.g. aes,gcmp)")
	fs.StringSliceVar(&f.mcCiphers, "group-cipher", nil, "acceptable group ciphers (default: any)")
	fs.StringVar(&f.pmf, "pmf", "", "station PMF capability: disabled, capable or required")
	fs.BoolVar(&f.ignorePMF, "ignore-pmf", false, "skip the PMF compatibility check")
	fs.StringVar(&f.bssType, "bss-type", "", "network type: any, infrastructure or independent")
	fs.StringVar(&f.country, "country", "", "two letter country code the BSS must advertise")
	fs.StringVar(&f.bssidHint, "bssid-hint", "", "preferred BSSID")
	fs.BoolVar(&f.hintPriority, "hint-priority", false, "rank the preferred BSSID first")
	fs.BoolVar(&f.onlyWMM, "only-wmm", false, "only QoS capable networks")
	fs.BoolVar(&f.noScore, "no-score", false, "skip scoring and keep cache order")
	fs.BoolVar(&f.ignoreSec, "ignore-security", false, "skip security negotiation")
	fs.BoolVar(&f.p2p, "p2p", false, "include P2P group owners")
	fs.Uint16Var(&f.mobilityDom, "mobility-domain", 0, "required 802.11r mobility domain")
	fs.DurationVar(&f.maxAge, "max-age", 0, "ignore entries older than this (e.g. 5s)")
	return fs
}

// isSet reports whether any flag narrows the match.
func (f *filterFlags) isSet() bool {
	return len(f.ssids) > 0 || len(f.bssids) > 0 || len(f.avoid) > 0 || len(f.channels) > 0 ||
		f.bssType != "" || f.country != "" || f.onlyWMM || f.maxAge > 0 || f.mobilityDom != 0
}

// filter builds the scancache filter described by the flags.
func (f *filterFlags) filter() (scancache.Filter, error) {
	out := scancache.Filter{
		OnlyWMM:           f.onlyWMM,
		IgnoreAuthEncType: f.ignoreSec,
		IgnorePMF:         f.ignorePMF,
		P2PResults:        f.p2p,
		MobilityDomain:    f.mobilityDom,
		BSSIDHintPriority: f.hintPriority,
		SkipScoring:       f.noScore,
		AgeThreshold:      f.maxAge,
		Country:           strings.ToUpper(f.country),
	}

	if len(f.ssids) > maxFilterItems {
		return out, fmt.Errorf("at most %d --ssid values are allowed", maxFilterItems)
	}
	if len(f.bssids) > maxFilterItems {
		return out, fmt.Errorf("at most %d --bssid values are allowed", maxFilterItems)
	}
	if f.country != "" && len(f.country) != 2 {
		return out, fmt.Errorf("invalid --country %q: expected two letters", f.country)
	}
	out.SSIDs = f.ssids

	for _, s := range f.bssids {
		b, err := scancache.ParseBSSID(s)
		if err != nil {
			return out, fmt.Errorf("invalid --bssid: %w", err)
		}
		out.BSSIDs = append(out.BSSIDs, b)
	}

	if len(f.avoid) > scancache.MaxAvoidBSSIDs {
		return out, fmt.Errorf("at most %d --avoid-bssid values are allowed", scancache.MaxAvoidBSSIDs)
	}
	for _, s := range f.avoid {
		b, err := scancache.ParseBSSID(s)
		if err != nil {
			return out, fmt.Errorf("invalid --avoid-bssid: %w", err)
		}
		out.AvoidBSSIDs = append(out.AvoidBSSIDs, b)
	}

	for _, ch := range f.channels {
		if ch == 0 || ch > 255 {
			return out, fmt.Errorf("invalid --channel %d", ch)
		}
		out.Channels = append(out.Channels, uint8(ch))
	}

	for _, s := range f.auths {
		a, err := scancache.ParseAuthType(s)
		if err != nil {
			return out, err
		}
		out.AuthTypes = append(out.AuthTypes, a)
	}

	var ciphers []scancache.EncType
	for _, s := range f.ciphers {
		e, err := scancache.ParseEncType(s)
		if err != nil {
			return out, err
		}
		ciphers = append(ciphers, e)
	}
	out.EncTypes = scancache.NewEncTypeSet(ciphers...)

	var groupCiphers []scancache.EncType
	for _, s := range f.mcCiphers {
		e, err := scancache.ParseEncType(s)
		if err != nil {
			return out, err
		}
		groupCiphers = append(groupCiphers, e)
	}
	out.MCEncTypes = scancache.NewEncTypeSet(groupCiphers...)

	if f.pmf != "" {
		p, err := scancache.ParsePMFCap(f.pmf)
		if err != nil {
			return out, err
		}
		out.PMF = p
	}

	bssType, err := scancache.ParseBSSType(f.bssType)
	if err != nil {
		return out, err
	}
	out.BSSType = bssType

	if f.bssidHint != "" {
		hint, err := scancache.ParseBSSID(f.bssidHint)
		if err != nil {
			return out, fmt.Errorf("invalid --bssid-hint: %w", err)
		}
		out.BSSIDHint = hint
	}

	return out, nil
}
