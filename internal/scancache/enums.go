package scancache

import (
	"fmt"
	"strings"
)

// AuthType is an authentication scheme a station may negotiate.
type AuthType uint8

const (
	AuthOpen AuthType = iota
	AuthShared
	AuthAutoSwitch
	AuthWPA
	AuthWPAPSK
	AuthRSN
	AuthRSNPSK
	AuthFTRSN
	AuthFTRSNPSK
	AuthWAPICert
	AuthWAPIPSK
	AuthCCKMWPA
	AuthCCKMRSN
	AuthRSNPSKSHA256
	AuthRSN8021XSHA256
	AuthFILSSHA256
	AuthFILSSHA384
	AuthFTFILSSHA256
	AuthFTFILSSHA384
	AuthDPPRSN
	AuthOWE
	AuthSuiteBSHA256
	AuthSuiteBSHA384
	AuthSAE
	numAuthTypes
)

var authTypeNames = [...]string{
	AuthOpen:           "open",
	AuthShared:         "shared",
	AuthAutoSwitch:     "autoswitch",
	AuthWPA:            "wpa",
	AuthWPAPSK:         "wpa-psk",
	AuthRSN:            "rsn",
	AuthRSNPSK:         "rsn-psk",
	AuthFTRSN:          "ft-rsn",
	AuthFTRSNPSK:       "ft-rsn-psk",
	AuthWAPICert:       "wapi-cert",
	AuthWAPIPSK:        "wapi-psk",
	AuthCCKMWPA:        "cckm-wpa",
	AuthCCKMRSN:        "cckm-rsn",
	AuthRSNPSKSHA256:   "rsn-psk-sha256",
	AuthRSN8021XSHA256: "rsn-8021x-sha256",
	AuthFILSSHA256:     "fils-sha256",
	AuthFILSSHA384:     "fils-sha384",
	AuthFTFILSSHA256:   "ft-fils-sha256",
	AuthFTFILSSHA384:   "ft-fils-sha384",
	AuthDPPRSN:         "dpp",
	AuthOWE:            "owe",
	AuthSuiteBSHA256:   "suiteb-sha256",
	AuthSuiteBSHA384:   "suiteb-sha384",
	AuthSAE:            "sae",
}

// AllAuthTypes returns every auth type in enum order.
func AllAuthTypes() []AuthType {
	out := make([]AuthType, 0, numAuthTypes)
	for a := AuthOpen; a < numAuthTypes; a++ {
		out = append(out, a)
	}
	return out
}

func (a AuthType) String() string {
	if a < numAuthTypes {
		return authTypeNames[a]
	}
	return fmt.Sprintf("auth(%d)", uint8(a))
}

// ParseAuthType parses an auth type name as printed by String.
func ParseAuthType(s string) (AuthType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range authTypeNames {
		if name == s {
			return AuthType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown auth type: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a AuthType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AuthType) UnmarshalText(text []byte) error {
	v, err := ParseAuthType(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// EncType is a cipher a station may negotiate. The order of the constants is
// the order in which requested ciphers are tried.
type EncType uint8

const (
	EncNone EncType = iota
	EncWEP40Static
	EncWEP104Static
	EncWEP40
	EncWEP104
	EncTKIP
	EncAES
	EncGCMP
	EncGCMP256
	EncWPI
	EncAny
	numEncTypes
)

var encTypeNames = [...]string{
	EncNone:         "none",
	EncWEP40Static:  "wep40-static",
	EncWEP104Static: "wep104-static",
	EncWEP40:        "wep40",
	EncWEP104:       "wep104",
	EncTKIP:         "tkip",
	EncAES:          "aes",
	EncGCMP:         "gcmp",
	EncGCMP256:      "gcmp256",
	EncWPI:          "wpi",
	EncAny:          "any",
}

func (e EncType) String() string {
	if e < numEncTypes {
		return encTypeNames[e]
	}
	return fmt.Sprintf("enc(%d)", uint8(e))
}

// ParseEncType parses a cipher name as printed by String.
func ParseEncType(s string) (EncType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range encTypeNames {
		if name == s {
			return EncType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown encryption type: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (e EncType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EncType) UnmarshalText(text []byte) error {
	v, err := ParseEncType(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (e EncType) isWEP() bool {
	switch e {
	case EncWEP40Static, EncWEP104Static, EncWEP40, EncWEP104:
		return true
	}
	return false
}

// EncTypeSet is a bitmask of cipher types.
type EncTypeSet uint16

// NewEncTypeSet builds a set from the given types.
func NewEncTypeSet(types ...EncType) EncTypeSet {
	var s EncTypeSet
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

// With returns the set with t added.
func (s EncTypeSet) With(t EncType) EncTypeSet {
	return s | 1<<t
}

// Has reports whether t is in the set.
func (s EncTypeSet) Has(t EncType) bool {
	return s&(1<<t) != 0
}

// Empty reports whether no type is set.
func (s EncTypeSet) Empty() bool {
	return s == 0
}

// Types returns the members in enum order.
func (s EncTypeSet) Types() []EncType {
	var out []EncType
	for t := EncNone; t < numEncTypes; t++ {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// MarshalText encodes the set as a comma separated list of names.
func (s EncTypeSet) MarshalText() ([]byte, error) {
	names := make([]string, 0, 4)
	for _, t := range s.Types() {
		names = append(names, t.String())
	}
	return []byte(strings.Join(names, ",")), nil
}

// UnmarshalText decodes a comma separated list of cipher names.
func (s *EncTypeSet) UnmarshalText(text []byte) error {
	var set EncTypeSet
	for _, part := range strings.Split(string(text), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseEncType(part)
		if err != nil {
			return err
		}
		set = set.With(t)
	}
	*s = set
	return nil
}

// PMFCap is a management frame protection capability.
type PMFCap uint8

const (
	PMFDisabled PMFCap = iota
	PMFCapable
	PMFRequired
)

func (p PMFCap) String() string {
	switch p {
	case PMFDisabled:
		return "disabled"
	case PMFCapable:
		return "capable"
	case PMFRequired:
		return "required"
	default:
		return fmt.Sprintf("pmf(%d)", uint8(p))
	}
}

// ParsePMFCap parses a PMF capability name.
func ParsePMFCap(s string) (PMFCap, error) {
	for p := PMFDisabled; p <= PMFRequired; p++ {
		if p.String() == strings.ToLower(s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown pmf capability: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p PMFCap) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PMFCap) UnmarshalText(text []byte) error {
	v, err := ParsePMFCap(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// BSSType restricts candidates by network type.
type BSSType uint8

const (
	BSSAny BSSType = iota
	BSSInfrastructure
	BSSIndependent
)

func (b BSSType) String() string {
	switch b {
	case BSSAny:
		return "any"
	case BSSInfrastructure:
		return "infrastructure"
	case BSSIndependent:
		return "independent"
	default:
		return fmt.Sprintf("bsstype(%d)", uint8(b))
	}
}

// ParseBSSType parses a BSS type name.
func ParseBSSType(s string) (BSSType, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return BSSAny, nil
	case "infrastructure", "infra":
		return BSSInfrastructure, nil
	case "independent", "ibss":
		return BSSIndependent, nil
	}
	return 0, fmt.Errorf("unknown bss type: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b BSSType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *BSSType) UnmarshalText(text []byte) error {
	v, err := ParseBSSType(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
