package scancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/ieee80211"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func freshAP(b BSSID, ssid string, ch uint8) *Entry {
	e := apEntry(b, ssid, ch, -50)
	e.ScanEntryTime = testNow
	return e
}

func TestMatchPredicates(t *testing.T) {
	fils := join(le16(1<<3), []byte{0xab, 0xcd})

	tests := []struct {
		name   string
		filter Filter
		modify func(e *Entry)
		want   bool
	}{
		{"empty filter", Filter{}, nil, true},
		{"p2p wanted, not p2p", Filter{P2PResults: true}, nil, false},
		{"p2p wanted, p2p", Filter{P2PResults: true}, func(e *Entry) { e.IsP2P = true }, true},
		{"age within threshold", Filter{AgeThreshold: time.Minute}, func(e *Entry) {
			e.ScanEntryTime = testNow.Add(-30 * time.Second)
		}, true},
		{"age above threshold", Filter{AgeThreshold: time.Minute}, func(e *Entry) {
			e.ScanEntryTime = testNow.Add(-2 * time.Minute)
		}, false},
		{"ssid match", Filter{SSIDs: []string{"other", "net"}}, nil, true},
		{"ssid mismatch", Filter{SSIDs: []string{"other"}}, nil, false},
		{"hidden ssid without owe", Filter{SSIDs: []string{"net"}}, func(e *Entry) { e.SSID = "" }, false},
		{"hidden ssid with owe", Filter{SSIDs: []string{"net"}, AuthTypes: []AuthType{AuthOWE}, IgnoreAuthEncType: true},
			func(e *Entry) { e.SSID = "" }, true},
		{"bssid match", Filter{BSSIDs: []BSSID{bssid(9), bssid(1)}}, nil, true},
		{"bssid mismatch", Filter{BSSIDs: []BSSID{bssid(9)}}, nil, false},
		{"avoided bssid", Filter{AvoidBSSIDs: []BSSID{bssid(9), bssid(1)}}, nil, false},
		{"other bssid avoided", Filter{AvoidBSSIDs: []BSSID{bssid(9)}}, nil, true},
		{"avoid list beats bssid list", Filter{BSSIDs: []BSSID{bssid(1)}, AvoidBSSIDs: []BSSID{bssid(1)},
			RRMMeasurement: true}, nil, false},
		{"channel match", Filter{Channels: []uint8{1, 6}}, nil, true},
		{"channel mismatch", Filter{Channels: []uint8{6, 11}}, nil, false},
		{"channel wildcard", Filter{Channels: []uint8{11, 0}}, nil, true},
		{"rrm ignores security", Filter{RRMMeasurement: true, EncTypes: NewEncTypeSet(EncAES)}, nil, true},
		{"security required", Filter{EncTypes: NewEncTypeSet(EncAES)}, nil, false},
		{"ignore security", Filter{IgnoreAuthEncType: true, EncTypes: NewEncTypeSet(EncAES)}, nil, true},
		{"bss infra", Filter{BSSType: BSSInfrastructure}, nil, true},
		{"bss ibss", Filter{BSSType: BSSIndependent}, nil, false},
		{"wmm missing", Filter{OnlyWMM: true}, nil, false},
		{"wmm present", Filter{OnlyWMM: true}, func(e *Entry) { e.IEs.WMMParam = []byte{0x01} }, true},
		{"fils realm missing ie", Filter{FILSRealmCheck: true, FILSRealm: [2]byte{0xab, 0xcd}}, nil, false},
		{"fils realm match", Filter{FILSRealmCheck: true, FILSRealm: [2]byte{0xab, 0xcd}},
			func(e *Entry) { e.IEs.FILSIndication = fils }, true},
		{"fils realm mismatch", Filter{FILSRealmCheck: true, FILSRealm: [2]byte{0x01, 0x02}},
			func(e *Entry) { e.IEs.FILSIndication = fils }, false},
		{"country missing ie", Filter{Country: "DE"}, nil, false},
		{"country match", Filter{Country: "DE"}, func(e *Entry) { e.IEs.Country = []byte("DEI") }, true},
		{"country mismatch", Filter{Country: "US"}, func(e *Entry) { e.IEs.Country = []byte("DEI") }, false},
		{"mdid missing ie", Filter{MobilityDomain: 0x1234}, nil, false},
		{"mdid match", Filter{MobilityDomain: 0x1234},
			func(e *Entry) { e.IEs.MobilityDomain = []byte{0x34, 0x12, 0x00} }, true},
		{"mdid mismatch", Filter{MobilityDomain: 0x1234},
			func(e *Entry) { e.IEs.MobilityDomain = []byte{0x35, 0x12, 0x00} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := freshAP(bssid(1), "net", 1)
			if tt.modify != nil {
				tt.modify(e)
			}
			_, ok := Match(&tt.filter, e, testNow)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatchPMFScenario(t *testing.T) {
	filter := &Filter{
		SSIDs:     []string{"CorpNet"},
		EncTypes:  NewEncTypeSet(EncAES),
		AuthTypes: []AuthType{AuthRSNPSK},
		PMF:       PMFRequired,
	}
	capable := rsnPSKEntry(bssid(1), "CorpNet", 36, -50, ieee80211.RSNCapMFPCapable)
	capable.ScanEntryTime = testNow
	disabled := rsnPSKEntry(bssid(2), "CorpNet", 36, -50, 0)
	disabled.ScanEntryTime = testNow

	sec, ok := Match(filter, capable, testNow)
	require.True(t, ok)
	assert.Equal(t, AuthRSNPSK, sec.AuthType)
	assert.Equal(t, EncAES, sec.UnicastCipher)
	assert.Equal(t, EncAES, sec.MulticastCipher)
	assert.Equal(t, PMFCapable, sec.PMF)
	assert.Equal(t, ieee80211.RSNSelector(ieee80211.AKMPSK), sec.AKM)

	_, ok = Match(filter, disabled, testNow)
	assert.False(t, ok)
}

func TestMatchSecurity(t *testing.T) {
	rsnAP := func(caps uint16, akms ...uint8) *Entry {
		e := freshAP(bssid(1), "net", 36)
		e.Capability |= CapPrivacy
		e.IEs.RSN = rsnIE(ieee80211.CipherCCMP, ieee80211.CipherCCMP, caps, akms...)
		return e
	}
	wepAP := func() *Entry {
		e := freshAP(bssid(2), "net", 1)
		e.Capability |= CapPrivacy
		return e
	}

	tests := []struct {
		name   string
		entry  *Entry
		filter Filter
		want   bool
		sec    SecurityInfo
	}{
		{
			name:   "open",
			entry:  freshAP(bssid(3), "net", 1),
			filter: Filter{EncTypes: NewEncTypeSet(EncNone), AuthTypes: []AuthType{AuthOpen}},
			want:   true,
			sec:    SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncNone, MulticastCipher: EncNone},
		},
		{
			name:   "open rejects privacy",
			entry:  wepAP(),
			filter: Filter{EncTypes: NewEncTypeSet(EncNone)},
		},
		{
			name:   "open needs none multicast",
			entry:  freshAP(bssid(3), "net", 1),
			filter: Filter{EncTypes: NewEncTypeSet(EncNone), MCEncTypes: NewEncTypeSet(EncTKIP)},
		},
		{
			name:  "wep shared",
			entry: wepAP(),
			filter: Filter{
				EncTypes:   NewEncTypeSet(EncWEP104),
				MCEncTypes: NewEncTypeSet(EncWEP104),
				AuthTypes:  []AuthType{AuthShared},
			},
			want: true,
			sec:  SecurityInfo{AuthType: AuthShared, UnicastCipher: EncWEP104, MulticastCipher: EncWEP104},
		},
		{
			name: "wep with mismatching wpa group",
			entry: func() *Entry {
				e := wepAP()
				e.IEs.WPA = wpaIE(ieee80211.CipherTKIP, ieee80211.CipherTKIP, ieee80211.AKMPSK)
				return e
			}(),
			filter: Filter{EncTypes: NewEncTypeSet(EncWEP104)},
		},
		{
			name: "wep with wep group in wpa",
			entry: func() *Entry {
				e := wepAP()
				e.IEs.WPA = wpaIE(ieee80211.CipherWEP104, ieee80211.CipherTKIP, ieee80211.AKMPSK)
				return e
			}(),
			filter: Filter{EncTypes: NewEncTypeSet(EncWEP104)},
			want:   true,
			sec:    SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncWEP104, MulticastCipher: EncWEP104},
		},
		{
			name: "wpa tkip psk",
			entry: func() *Entry {
				e := wepAP()
				e.IEs.WPA = wpaIE(ieee80211.CipherTKIP, ieee80211.CipherTKIP, ieee80211.AKMPSK)
				return e
			}(),
			filter: Filter{EncTypes: NewEncTypeSet(EncTKIP), AuthTypes: []AuthType{AuthWPAPSK}},
			want:   true,
			sec: SecurityInfo{
				AuthType: AuthWPAPSK, UnicastCipher: EncTKIP, MulticastCipher: EncTKIP,
				AKM: ieee80211.WPASelector(ieee80211.AKMPSK),
			},
		},
		{
			name: "wapi psk",
			entry: func() *Entry {
				e := wepAP()
				e.IEs.WAPI = wapiIE(ieee80211.WAIPSK)
				return e
			}(),
			filter: Filter{EncTypes: NewEncTypeSet(EncWPI), AuthTypes: []AuthType{AuthWAPIPSK}},
			want:   true,
			sec: SecurityInfo{
				AuthType: AuthWAPIPSK, UnicastCipher: EncWPI, MulticastCipher: EncWPI,
				AKM: ieee80211.WAPISelector(ieee80211.WAIPSK),
			},
		},
		{
			name: "wapi auth not allowed",
			entry: func() *Entry {
				e := wepAP()
				e.IEs.WAPI = wapiIE(ieee80211.WAIPSK)
				return e
			}(),
			filter: Filter{EncTypes: NewEncTypeSet(EncWPI), AuthTypes: []AuthType{AuthWAPICert}},
		},
		{
			name:   "rsn multicast mismatch",
			entry:  rsnAP(0, ieee80211.AKMPSK),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES), MCEncTypes: NewEncTypeSet(EncTKIP)},
		},
		{
			name:   "rsn pairwise mismatch",
			entry:  rsnAP(0, ieee80211.AKMPSK),
			filter: Filter{EncTypes: NewEncTypeSet(EncGCMP256)},
		},
		{
			name:   "auth priority follows filter order sae first",
			entry:  rsnAP(ieee80211.RSNCapMFPCapable, ieee80211.AKMPSK, ieee80211.AKMSAE),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthSAE, AuthRSNPSK}, PMF: PMFCapable},
			want:   true,
			sec: SecurityInfo{
				AuthType: AuthSAE, UnicastCipher: EncAES, MulticastCipher: EncAES,
				AKM: ieee80211.RSNSelector(ieee80211.AKMSAE), PMF: PMFCapable,
			},
		},
		{
			name:   "auth priority follows filter order psk first",
			entry:  rsnAP(ieee80211.RSNCapMFPCapable, ieee80211.AKMPSK, ieee80211.AKMSAE),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthRSNPSK, AuthSAE}, PMF: PMFCapable},
			want:   true,
			sec: SecurityInfo{
				AuthType: AuthRSNPSK, UnicastCipher: EncAES, MulticastCipher: EncAES,
				AKM: ieee80211.RSNSelector(ieee80211.AKMPSK), PMF: PMFCapable,
			},
		},
		{
			name:   "pmf disabled filter rejects pmf required ap",
			entry:  rsnAP(ieee80211.RSNCapMFPCapable|ieee80211.RSNCapMFPRequired, ieee80211.AKMSAE),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthSAE}, PMF: PMFDisabled},
		},
		{
			name:  "ignore pmf",
			entry: rsnAP(ieee80211.RSNCapMFPCapable|ieee80211.RSNCapMFPRequired, ieee80211.AKMSAE),
			filter: Filter{
				EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthSAE},
				PMF: PMFDisabled, IgnorePMF: true,
			},
			want: true,
			sec: SecurityInfo{
				AuthType: AuthSAE, UnicastCipher: EncAES, MulticastCipher: EncAES,
				AKM: ieee80211.RSNSelector(ieee80211.AKMSAE), PMF: PMFRequired,
			},
		},
		{
			name:   "ft requested without adaptive 11r",
			entry:  rsnAP(0, ieee80211.AKMPSK),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthFTRSNPSK}},
		},
		{
			name: "adaptive 11r remaps psk to ft",
			entry: func() *Entry {
				e := rsnAP(0, ieee80211.AKMPSK)
				e.Adaptive11r = true
				return e
			}(),
			filter: Filter{
				EncTypes: NewEncTypeSet(EncAES), AuthTypes: []AuthType{AuthFTRSNPSK},
				EnableAdaptive11r: true,
			},
			want: true,
			sec: SecurityInfo{
				AuthType: AuthFTRSNPSK, UnicastCipher: EncAES, MulticastCipher: EncAES,
				AKM: ieee80211.RSNSelector(ieee80211.AKMPSK),
			},
		},
		{
			name:   "any picks rsn aes",
			entry:  rsnAP(0, ieee80211.AKMPSK),
			filter: Filter{EncTypes: NewEncTypeSet(EncAny)},
			want:   true,
			sec: SecurityInfo{
				AuthType: AuthRSNPSK, UnicastCipher: EncAES, MulticastCipher: EncAES,
				AKM: ieee80211.RSNSelector(ieee80211.AKMPSK),
			},
		},
		{
			name:   "any falls back to open",
			entry:  freshAP(bssid(3), "net", 1),
			filter: Filter{EncTypes: NewEncTypeSet(EncAny)},
			want:   true,
			sec:    SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncNone, MulticastCipher: EncNone},
		},
		{
			name:   "any wep implies shared",
			entry:  wepAP(),
			filter: Filter{EncTypes: NewEncTypeSet(EncAny)},
			want:   true,
			sec:    SecurityInfo{AuthType: AuthShared, UnicastCipher: EncWEP104, MulticastCipher: EncWEP104},
		},
		{
			name:   "open ap matches none within a cipher set",
			entry:  freshAP(bssid(3), "net", 1),
			filter: Filter{EncTypes: NewEncTypeSet(EncAES, EncNone)},
			want:   true,
			sec:    SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncNone, MulticastCipher: EncNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, ok := Match(&tt.filter, tt.entry, testNow)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.sec, sec)
			}
		})
	}
}

func TestMalformedElementFailsClosed(t *testing.T) {
	e := freshAP(bssid(1), "net", 36)
	e.Capability |= CapPrivacy
	e.IEs.RSN = []byte{0x01, 0x00, 0x00, 0x0f}

	var reported []string
	m := Matcher{OnMalformed: func(element string, b BSSID, err error) {
		assert.Equal(t, bssid(1), b)
		assert.Error(t, err)
		reported = append(reported, element)
	}}

	_, ok := m.Match(&Filter{EncTypes: NewEncTypeSet(EncAES)}, e, testNow)
	assert.False(t, ok)
	assert.Equal(t, []string{"rsn"}, reported)
}

func TestEncTypeSet(t *testing.T) {
	s := NewEncTypeSet(EncAES, EncNone, EncTKIP)
	assert.Equal(t, []EncType{EncNone, EncTKIP, EncAES}, s.Types())
	assert.True(t, s.Has(EncTKIP))
	assert.False(t, s.Has(EncGCMP))

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "none,tkip,aes", string(text))

	var parsed EncTypeSet
	require.NoError(t, parsed.UnmarshalText([]byte("aes, none")))
	assert.Equal(t, NewEncTypeSet(EncAES, EncNone), parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("rot13")))
}

func TestParseEnums(t *testing.T) {
	a, err := ParseAuthType("SAE")
	require.NoError(t, err)
	assert.Equal(t, AuthSAE, a)
	_, err = ParseAuthType("nope")
	assert.Error(t, err)

	p, err := ParsePMFCap("required")
	require.NoError(t, err)
	assert.Equal(t, PMFRequired, p)

	b, err := ParseBSSType("ibss")
	require.NoError(t, err)
	assert.Equal(t, BSSIndependent, b)
}
