package ieee80211

import (
	"bytes"

	"github.com/anstrom/scancache/internal/errors"
)

// FILS indication layout.
const (
	realmHashLen       = 2
	cacheIdentifierLen = 2
	hessidLen          = 6
)

// FILSIndication is a decoded FILS indication element.
type FILSIndication struct {
	PublicKeyCount   int
	CacheIDPresent   bool
	HESSIDPresent    bool
	IPConfig         bool
	FILSSKAuth       bool
	FILSSKAuthPFS    bool
	PublicKeyAuth    bool
	CacheIdentifier  []byte
	HESSID           []byte
	RealmIdentifiers [][realmHashLen]byte
}

// ParseFILSIndication decodes a FILS indication element body.
func ParseFILSIndication(body []byte) (*FILSIndication, error) {
	if len(body) < 2 {
		return nil, errors.NewIEError(ElemFILSIndication, 0, "fils indication too short")
	}
	info := le16(body)
	fils := &FILSIndication{
		PublicKeyCount: int(info & 0x07),
		IPConfig:       info&(1<<6) != 0,
		CacheIDPresent: info&(1<<7) != 0,
		HESSIDPresent:  info&(1<<8) != 0,
		FILSSKAuth:     info&(1<<9) != 0,
		FILSSKAuthPFS:  info&(1<<10) != 0,
		PublicKeyAuth:  info&(1<<11) != 0,
	}
	realms := int(info>>3) & 0x07

	off := 2
	if fils.CacheIDPresent {
		if len(body) < off+cacheIdentifierLen {
			return nil, errors.NewIEError(ElemFILSIndication, off, "truncated cache identifier")
		}
		fils.CacheIdentifier = body[off : off+cacheIdentifierLen]
		off += cacheIdentifierLen
	}
	if fils.HESSIDPresent {
		if len(body) < off+hessidLen {
			return nil, errors.NewIEError(ElemFILSIndication, off, "truncated hessid")
		}
		fils.HESSID = body[off : off+hessidLen]
		off += hessidLen
	}
	if len(body) < off+realms*realmHashLen {
		return nil, errors.NewIEError(ElemFILSIndication, off, "truncated realm identifiers")
	}
	fils.RealmIdentifiers = make([][realmHashLen]byte, realms)
	for i := range fils.RealmIdentifiers {
		copy(fils.RealmIdentifiers[i][:], body[off:off+realmHashLen])
		off += realmHashLen
	}
	return fils, nil
}

// HasRealm reports whether hash is one of the advertised realm identifiers.
func (f *FILSIndication) HasRealm(hash [2]byte) bool {
	for _, r := range f.RealmIdentifiers {
		if r == hash {
			return true
		}
	}
	return false
}

const attrReducedWANMetrics = 103

// WANMetrics is the OCE reduced WAN metrics attribute. Capacities are the
// 4-bit encoded values carried on the air.
type WANMetrics struct {
	DownlinkCapacity uint8
	UplinkCapacity   uint8
}

// ParseReducedWANMetrics looks for the reduced WAN metrics attribute in an
// MBO/OCE vendor element body. It returns false, nil when the element is well
// formed but carries no such attribute.
func ParseReducedWANMetrics(body []byte) (WANMetrics, bool, error) {
	if len(body) <= 4 {
		return WANMetrics{}, false, errors.NewIEError(ElemVendor, 0, "mbo/oce element too short")
	}
	if !IsMBOOCE(body) {
		return WANMetrics{}, false, errors.NewIEError(ElemVendor, 0, "not an mbo/oce element")
	}

	attrs := body[4:]
	off := 0
	for len(attrs)-off > 2 {
		id := attrs[off]
		n := int(attrs[off+1])
		if n > len(attrs)-off-2 {
			return WANMetrics{}, false, errors.NewIEError(ElemVendor, 4+off, "attribute length exceeds element")
		}
		if id == attrReducedWANMetrics && n >= 1 {
			v := attrs[off+2]
			return WANMetrics{DownlinkCapacity: v & 0x0f, UplinkCapacity: v >> 4}, true, nil
		}
		off += 2 + n
	}
	return WANMetrics{}, false, nil
}

// VHTSUBeamformer reports the SU beamformer bit of a VHT capabilities body.
func VHTSUBeamformer(body []byte) bool {
	return len(body) >= 4 && le32(body)&(1<<11) != 0
}

// MobilityDomain returns the MDID of a mobility domain element body.
func MobilityDomain(body []byte) (uint16, error) {
	if len(body) < 3 {
		return 0, errors.NewIEError(ElemMobilityDomain, 0, "mobility domain too short")
	}
	return le16(body), nil
}

// CountryCode returns the two-letter code of a country element body.
func CountryCode(body []byte) (string, error) {
	if len(body) < 3 {
		return "", errors.NewIEError(ElemCountry, 0, "country element too short")
	}
	return string(bytes.TrimRight(body[:2], "\x00")), nil
}

// QBSSChannelLoad returns the channel utilization byte of a BSS load body.
func QBSSChannelLoad(body []byte) (uint8, error) {
	if len(body) < 5 {
		return 0, errors.NewIEError(ElemQBSSLoad, 0, "bss load element too short")
	}
	return body[2], nil
}

const espACBestEffort = 0

// AirTimeFraction returns the estimated air time fraction advertised for the
// best effort access category of an ESP extension element body. The first
// byte is the extension id.
func AirTimeFraction(body []byte) (uint8, bool) {
	if len(body) < 1 || body[0] != ExtElemESP {
		return 0, false
	}
	info := body[1:]
	for len(info) >= 3 {
		if info[0]&0x03 == espACBestEffort {
			return info[1], true
		}
		info = info[3:]
	}
	return 0, false
}

// DSChannel returns the current channel of a DS parameter set body.
func DSChannel(body []byte) (uint8, bool) {
	if len(body) < 1 {
		return 0, false
	}
	return body[0], true
}

// HTPrimaryChannel returns the primary channel of an HT operation body.
func HTPrimaryChannel(body []byte) (uint8, bool) {
	if len(body) < 1 {
		return 0, false
	}
	return body[0], true
}
