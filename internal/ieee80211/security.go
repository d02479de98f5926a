package ieee80211

import (
	"github.com/anstrom/scancache/internal/errors"
)

// RSN is a decoded RSN element.
type RSN struct {
	Version         uint16
	GroupCipher     uint32
	PairwiseCiphers []uint32
	AKMSuites       []uint32
	Capabilities    uint16
	PMKIDs          [][PMKIDLen]byte
	MgmtCipher      uint32
}

// MFPCapable reports the advertised management frame protection bits.
func (r *RSN) MFPCapable() bool { return r.Capabilities&RSNCapMFPCapable != 0 }

// MFPRequired reports whether the AP refuses stations without PMF.
func (r *RSN) MFPRequired() bool { return r.Capabilities&RSNCapMFPRequired != 0 }

// WPA is a decoded WPA vendor element.
type WPA struct {
	Version       uint16
	GroupCipher   uint32
	UnicastCipher []uint32
	AuthSuites    []uint32
	Capabilities  uint16
}

// WAPI is a decoded WAPI element.
type WAPI struct {
	Version        uint16
	AKMSuites      []uint32
	UnicastCiphers []uint32
	GroupCipher    uint32
}

// reader walks an element body. Every read is bounds checked by the caller
// through remaining().
type reader struct {
	id  uint8
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u16() uint16 {
	v := le16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := le32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) fail(msg string) error {
	return errors.NewIEError(r.id, r.off, msg)
}

// suiteList reads a two-byte count followed by that many selectors. A zero
// count, more than MaxCipherSuites entries, or a list running past the body
// are all malformed.
func (r *reader) suiteList(what string) ([]uint32, error) {
	n := int(r.u16())
	if n == 0 || n > MaxCipherSuites || n > r.remaining()/4 {
		return nil, r.fail("invalid " + what + " count")
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.u32()
	}
	return out, nil
}

// ParseRSN decodes an RSN element body. Optional trailing fields default to
// CCMP group and pairwise ciphers and the 802.1X AKM.
func ParseRSN(body []byte) (*RSN, error) {
	r := &reader{id: ElemRSN, buf: body}
	if r.remaining() < 2 {
		return nil, r.fail("rsn element too short")
	}

	rsn := &RSN{
		Version:         r.u16(),
		GroupCipher:     RSNSelector(CipherCCMP),
		PairwiseCiphers: []uint32{RSNSelector(CipherCCMP)},
		AKMSuites:       []uint32{RSNSelector(AKM8021X)},
	}
	if rsn.Version != RSNVersion {
		return nil, r.fail("unsupported rsn version")
	}

	switch {
	case r.remaining() >= 4:
		rsn.GroupCipher = r.u32()
	case r.remaining() > 0:
		return nil, r.fail("truncated group cipher")
	}

	var err error
	switch {
	case r.remaining() >= 2:
		if rsn.PairwiseCiphers, err = r.suiteList("pairwise cipher"); err != nil {
			return nil, err
		}
	case r.remaining() == 1:
		return nil, r.fail("truncated pairwise cipher count")
	}

	switch {
	case r.remaining() >= 2:
		if rsn.AKMSuites, err = r.suiteList("akm suite"); err != nil {
			return nil, err
		}
	case r.remaining() == 1:
		return nil, r.fail("truncated akm suite count")
	}

	switch {
	case r.remaining() >= 2:
		rsn.Capabilities = r.u16()
	case r.remaining() == 1:
		return nil, r.fail("truncated capabilities")
	}

	switch {
	case r.remaining() >= 2:
		n := int(r.u16())
		if n > r.remaining()/PMKIDLen {
			return nil, r.fail("invalid pmkid count")
		}
		rsn.PMKIDs = make([][PMKIDLen]byte, n)
		for i := range rsn.PMKIDs {
			copy(rsn.PMKIDs[i][:], r.buf[r.off:r.off+PMKIDLen])
			r.off += PMKIDLen
		}
	case r.remaining() == 1:
		return nil, r.fail("truncated pmkid count")
	}

	switch {
	case r.remaining() >= 4:
		rsn.MgmtCipher = r.u32()
	case r.remaining() > 0:
		return nil, r.fail("truncated management cipher")
	}

	return rsn, nil
}

// ParseWPA decodes a WPA vendor element body, starting at the OUI. Optional
// fields default to TKIP ciphers and the 802.1X AKM.
func ParseWPA(body []byte) (*WPA, error) {
	r := &reader{id: ElemVendor, buf: body}
	if r.remaining() < 6 {
		return nil, r.fail("wpa element too short")
	}
	if !IsWPA(body) {
		return nil, r.fail("not a wpa element")
	}
	r.off = 4

	wpa := &WPA{
		Version:       r.u16(),
		GroupCipher:   WPASelector(CipherTKIP),
		UnicastCipher: []uint32{WPASelector(CipherTKIP)},
		AuthSuites:    []uint32{WPASelector(AKM8021X)},
	}
	if wpa.Version != WPAVersion {
		return nil, r.fail("unsupported wpa version")
	}

	switch {
	case r.remaining() >= 4:
		wpa.GroupCipher = r.u32()
	case r.remaining() > 0:
		return nil, r.fail("truncated group cipher")
	}

	var err error
	switch {
	case r.remaining() >= 2:
		if wpa.UnicastCipher, err = r.suiteList("unicast cipher"); err != nil {
			return nil, err
		}
	case r.remaining() == 1:
		return nil, r.fail("truncated unicast cipher count")
	}

	switch {
	case r.remaining() >= 2:
		if wpa.AuthSuites, err = r.suiteList("auth suite"); err != nil {
			return nil, err
		}
	case r.remaining() == 1:
		return nil, r.fail("truncated auth suite count")
	}

	if r.remaining() >= 2 {
		wpa.Capabilities = r.u16()
	}

	return wpa, nil
}

// wapiMinLen covers version, both suite counts, one AKM, one unicast cipher
// and the group cipher.
const wapiMinLen = 20

// ParseWAPI decodes a WAPI element body.
func ParseWAPI(body []byte) (*WAPI, error) {
	r := &reader{id: ElemWAPI, buf: body}
	if r.remaining() < wapiMinLen {
		return nil, r.fail("wapi element too short")
	}

	wapi := &WAPI{Version: r.u16()}
	if wapi.Version != WAPIVersion {
		return nil, r.fail("unsupported wapi version")
	}

	n := int(r.u16())
	if n > MaxCipherSuites || r.remaining() < n*4 {
		return nil, r.fail("invalid akm suite count")
	}
	wapi.AKMSuites = make([]uint32, n)
	for i := range wapi.AKMSuites {
		wapi.AKMSuites[i] = r.u32()
	}

	if r.remaining() < 2 {
		return nil, r.fail("truncated unicast cipher count")
	}
	n = int(r.u16())
	if n > MaxCipherSuites || r.remaining() < n*4+2 {
		return nil, r.fail("invalid unicast cipher count")
	}
	wapi.UnicastCiphers = make([]uint32, n)
	for i := range wapi.UnicastCiphers {
		wapi.UnicastCiphers[i] = r.u32()
	}

	if r.remaining() >= 4 {
		wapi.GroupCipher = r.u32()
	}

	return wapi, nil
}
