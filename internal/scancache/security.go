package scancache

import (
	"slices"

	"github.com/anstrom/scancache/internal/ieee80211"
)

// SecurityInfo is the outcome of security negotiation against one AP.
type SecurityInfo struct {
	AuthType        AuthType `json:"auth_type"`
	UnicastCipher   EncType  `json:"unicast_cipher"`
	MulticastCipher EncType  `json:"multicast_cipher"`
	AKM             uint32   `json:"akm,omitempty"`
	PMF             PMFCap   `json:"pmf"`
}

type akmRule struct {
	akm  uint32
	auth AuthType
}

var rsnAKMRules = []akmRule{
	{ieee80211.RSNSelector(ieee80211.AKMFTFILSSHA384), AuthFTFILSSHA384},
	{ieee80211.RSNSelector(ieee80211.AKMFTFILSSHA256), AuthFTFILSSHA256},
	{ieee80211.RSNSelector(ieee80211.AKMFILSSHA384), AuthFILSSHA384},
	{ieee80211.RSNSelector(ieee80211.AKMFILSSHA256), AuthFILSSHA256},
	{ieee80211.RSNSelector(ieee80211.AKMSAE), AuthSAE},
	{ieee80211.DPPAKM, AuthDPPRSN},
	{ieee80211.RSNSelector(ieee80211.AKMOWE), AuthOWE},
	{ieee80211.RSNSelector(ieee80211.AKMFT8021X), AuthFTRSN},
	{ieee80211.RSNSelector(ieee80211.AKMFTPSK), AuthFTRSNPSK},
	{ieee80211.CCKMAKM, AuthCCKMRSN},
	{ieee80211.RSNSelector(ieee80211.AKM8021X), AuthRSN},
	{ieee80211.RSNSelector(ieee80211.AKMPSK), AuthRSNPSK},
	{ieee80211.RSNSelector(ieee80211.AKMPSKSHA256), AuthRSNPSKSHA256},
	{ieee80211.RSNSelector(ieee80211.AKM8021XSHA256), AuthRSN8021XSHA256},
	{ieee80211.RSNSelector(ieee80211.AKMSuiteBSHA256), AuthSuiteBSHA256},
	{ieee80211.RSNSelector(ieee80211.AKMSuiteBSHA384), AuthSuiteBSHA384},
}

// adaptive11rRules let an AP that runs FT without advertising the FT AKMs
// satisfy a request for FT.
var adaptive11rRules = []akmRule{
	{ieee80211.RSNSelector(ieee80211.AKM8021X), AuthFTRSN},
	{ieee80211.RSNSelector(ieee80211.AKMPSK), AuthFTRSNPSK},
}

var wpaAKMRules = []akmRule{
	{ieee80211.WPASelector(ieee80211.AKM8021X), AuthWPA},
	{ieee80211.WPASelector(ieee80211.AKMPSK), AuthWPAPSK},
	{ieee80211.CCKMAKM, AuthCCKMWPA},
}

// cipherSuite maps a cipher type to its suite type.
func cipherSuite(t EncType) uint8 {
	switch t {
	case EncNone:
		return ieee80211.CipherNone
	case EncWEP40, EncWEP40Static:
		return ieee80211.CipherWEP40
	case EncWEP104, EncWEP104Static:
		return ieee80211.CipherWEP104
	case EncTKIP:
		return ieee80211.CipherTKIP
	case EncAES:
		return ieee80211.CipherCCMP
	case EncGCMP:
		return ieee80211.CipherGCMP128
	case EncGCMP256:
		return ieee80211.CipherGCMP256
	case EncWPI:
		return ieee80211.WAICertOrSMS4
	default:
		return ieee80211.CipherReserved
	}
}

// encFromSuite maps a suite type back to a cipher type.
func encFromSuite(suite uint8) EncType {
	switch suite {
	case ieee80211.CipherNone:
		return EncNone
	case ieee80211.CipherWEP40:
		return EncWEP40
	case ieee80211.CipherWEP104:
		return EncWEP104
	case ieee80211.CipherTKIP:
		return EncTKIP
	case ieee80211.CipherCCMP:
		return EncAES
	case ieee80211.CipherGCMP128:
		return EncGCMP
	case ieee80211.CipherGCMP256:
		return EncGCMP256
	default:
		return EncAny
	}
}

// permitsAny reports whether a multicast cipher list accepts every group
// cipher. An empty list or one containing EncAny does.
func (s EncTypeSet) permitsAny() bool {
	return s.Empty() || s.Has(EncAny)
}

// negotiateGroup picks the first requested multicast cipher whose selector
// equals the AP's group cipher.
func negotiateGroup(mc EncTypeSet, group uint32, selector func(uint8) uint32) (EncType, bool) {
	for _, t := range mc.Types() {
		if t != EncAny && selector(cipherSuite(t)) == group {
			return t, true
		}
	}
	if mc.permitsAny() {
		return encFromSuite(uint8(group >> 24)), true
	}
	return EncNone, false
}

// negotiateAKM walks the requested auth types in priority order and returns
// the first one the AP supports.
func negotiateAKM(auths []AuthType, suites []uint32, rules ...[]akmRule) (AuthType, uint32, bool) {
	for _, auth := range auths {
		for _, set := range rules {
			for _, r := range set {
				if r.auth == auth && ieee80211.HasSuite(suites, r.akm) {
					return auth, r.akm, true
				}
			}
		}
	}
	return 0, 0, false
}

func (m Matcher) matchSecurity(f *Filter, e *Entry) (SecurityInfo, bool) {
	if f.EncTypes.Empty() {
		return SecurityInfo{}, true
	}
	for _, enc := range f.EncTypes.Types() {
		if sec, ok := m.matchEncType(f, e, enc); ok {
			return sec, true
		}
	}
	return SecurityInfo{}, false
}

func (m Matcher) matchEncType(f *Filter, e *Entry, enc EncType) (SecurityInfo, bool) {
	switch enc {
	case EncNone:
		return matchOpen(f, e)
	case EncWEP40Static, EncWEP104Static, EncWEP40, EncWEP104:
		return m.matchWEP(f, e, enc)
	case EncTKIP, EncAES, EncGCMP, EncGCMP256:
		if e.IEs.RSN != nil {
			if sec, ok := m.matchRSN(f, e, enc); ok {
				return sec, true
			}
		}
		if e.IEs.WPA != nil {
			return m.matchWPA(f, e, enc)
		}
		return SecurityInfo{}, false
	case EncWPI:
		return m.matchWAPI(f, e)
	case EncAny:
		return m.matchAny(f, e)
	default:
		return SecurityInfo{}, false
	}
}

func matchOpen(f *Filter, e *Entry) (SecurityInfo, bool) {
	if e.Capability.Privacy() {
		return SecurityInfo{}, false
	}
	if !f.MCEncTypes.permitsAny() && !f.MCEncTypes.Has(EncNone) {
		return SecurityInfo{}, false
	}
	auths := f.authTypes()
	if !slices.Contains(auths, AuthOpen) && !slices.Contains(auths, AuthAutoSwitch) {
		return SecurityInfo{}, false
	}
	return SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncNone, MulticastCipher: EncNone}, true
}

func (m Matcher) matchWEP(f *Filter, e *Entry, uc EncType) (SecurityInfo, bool) {
	if !e.Capability.Privacy() {
		return SecurityInfo{}, false
	}
	if !f.MCEncTypes.permitsAny() && !f.MCEncTypes.Has(uc) {
		return SecurityInfo{}, false
	}

	sec := SecurityInfo{UnicastCipher: uc, MulticastCipher: uc}
	found := false
	for _, a := range f.authTypes() {
		if a == AuthOpen || a == AuthShared || a == AuthAutoSwitch {
			sec.AuthType = a
			found = true
			break
		}
	}
	if !found {
		return SecurityInfo{}, false
	}

	// An AP running WPA or RSN next to WEP must use the WEP cipher as its
	// group cipher.
	suite := cipherSuite(uc)
	if e.IEs.WPA == nil && e.IEs.RSN == nil {
		return sec, true
	}
	if e.IEs.WPA != nil {
		wpa, err := ieee80211.ParseWPA(e.IEs.WPA)
		if err != nil {
			m.malformed("wpa", e, err)
			return SecurityInfo{}, false
		}
		if wpa.GroupCipher == ieee80211.WPASelector(suite) {
			return sec, true
		}
	}
	if e.IEs.RSN != nil {
		rsn, err := ieee80211.ParseRSN(e.IEs.RSN)
		if err != nil {
			m.malformed("rsn", e, err)
			return SecurityInfo{}, false
		}
		if rsn.GroupCipher == ieee80211.RSNSelector(suite) {
			return sec, true
		}
	}
	return SecurityInfo{}, false
}

func (m Matcher) matchRSN(f *Filter, e *Entry, uc EncType) (SecurityInfo, bool) {
	rsn, err := ieee80211.ParseRSN(e.IEs.RSN)
	if err != nil {
		m.malformed("rsn", e, err)
		return SecurityInfo{}, false
	}
	if !ieee80211.HasSuite(rsn.PairwiseCiphers, ieee80211.RSNSelector(cipherSuite(uc))) {
		return SecurityInfo{}, false
	}
	mc, ok := negotiateGroup(f.MCEncTypes, rsn.GroupCipher, ieee80211.RSNSelector)
	if !ok {
		return SecurityInfo{}, false
	}

	rules := [][]akmRule{rsnAKMRules}
	if f.EnableAdaptive11r && e.Adaptive11r {
		rules = append(rules, adaptive11rRules)
	}
	auth, akm, ok := negotiateAKM(f.authTypes(), rsn.AKMSuites, rules...)
	if !ok {
		return SecurityInfo{}, false
	}

	if !f.IgnorePMF {
		if f.PMF == PMFRequired && !rsn.MFPCapable() {
			return SecurityInfo{}, false
		}
		if f.PMF == PMFDisabled && rsn.MFPRequired() {
			return SecurityInfo{}, false
		}
	}

	pmf := PMFDisabled
	switch {
	case rsn.MFPRequired() && rsn.MFPCapable():
		pmf = PMFRequired
	case rsn.MFPCapable():
		pmf = PMFCapable
	}
	return SecurityInfo{
		AuthType:        auth,
		UnicastCipher:   uc,
		MulticastCipher: mc,
		AKM:             akm,
		PMF:             pmf,
	}, true
}

func (m Matcher) matchWPA(f *Filter, e *Entry, uc EncType) (SecurityInfo, bool) {
	wpa, err := ieee80211.ParseWPA(e.IEs.WPA)
	if err != nil {
		m.malformed("wpa", e, err)
		return SecurityInfo{}, false
	}
	if !ieee80211.HasSuite(wpa.UnicastCipher, ieee80211.WPASelector(cipherSuite(uc))) {
		return SecurityInfo{}, false
	}
	mc, ok := negotiateGroup(f.MCEncTypes, wpa.GroupCipher, ieee80211.WPASelector)
	if !ok {
		return SecurityInfo{}, false
	}
	auth, akm, ok := negotiateAKM(f.authTypes(), wpa.AuthSuites, wpaAKMRules)
	if !ok {
		return SecurityInfo{}, false
	}
	return SecurityInfo{AuthType: auth, UnicastCipher: uc, MulticastCipher: mc, AKM: akm}, true
}

func (m Matcher) matchWAPI(f *Filter, e *Entry) (SecurityInfo, bool) {
	if e.IEs.WAPI == nil {
		return SecurityInfo{}, false
	}
	wapi, err := ieee80211.ParseWAPI(e.IEs.WAPI)
	if err != nil {
		m.malformed("wapi", e, err)
		return SecurityInfo{}, false
	}
	if !ieee80211.HasSuite(wapi.UnicastCiphers, ieee80211.WAPISelector(ieee80211.WAICertOrSMS4)) {
		return SecurityInfo{}, false
	}

	mc := EncWPI
	if !f.MCEncTypes.permitsAny() {
		found := false
		for _, t := range f.MCEncTypes.Types() {
			if ieee80211.WAPISelector(cipherSuite(t)) == wapi.GroupCipher {
				mc, found = t, true
				break
			}
		}
		if !found {
			return SecurityInfo{}, false
		}
	}

	var auth AuthType
	var akm uint32
	switch {
	case ieee80211.HasSuite(wapi.AKMSuites, ieee80211.WAPISelector(ieee80211.WAICertOrSMS4)):
		auth, akm = AuthWAPICert, ieee80211.WAPISelector(ieee80211.WAICertOrSMS4)
	case ieee80211.HasSuite(wapi.AKMSuites, ieee80211.WAPISelector(ieee80211.WAIPSK)):
		auth, akm = AuthWAPIPSK, ieee80211.WAPISelector(ieee80211.WAIPSK)
	default:
		return SecurityInfo{}, false
	}
	if !slices.Contains(f.authTypes(), auth) {
		return SecurityInfo{}, false
	}
	return SecurityInfo{AuthType: auth, UnicastCipher: EncWPI, MulticastCipher: mc, AKM: akm}, true
}

// matchAny tries the schemes from strongest to weakest.
func (m Matcher) matchAny(f *Filter, e *Entry) (SecurityInfo, bool) {
	if e.IEs.RSN != nil {
		for _, uc := range []EncType{EncAES, EncTKIP} {
			if sec, ok := m.matchRSN(f, e, uc); ok {
				return sec, true
			}
		}
	}
	if e.IEs.WPA != nil {
		for _, uc := range []EncType{EncAES, EncTKIP} {
			if sec, ok := m.matchWPA(f, e, uc); ok {
				return sec, true
			}
		}
	}
	if sec, ok := m.matchWAPI(f, e); ok {
		return sec, true
	}

	if !e.Capability.Privacy() {
		return SecurityInfo{AuthType: AuthOpen, UnicastCipher: EncNone, MulticastCipher: EncNone}, true
	}
	for _, uc := range []EncType{EncWEP104, EncWEP40, EncWEP104Static, EncWEP40Static} {
		if sec, ok := m.matchWEP(f, e, uc); ok {
			if len(f.AuthTypes) == 0 {
				sec.AuthType = AuthShared
			}
			return sec, true
		}
	}
	return SecurityInfo{}, false
}
