// Package ieee80211 decodes the 802.11 information elements that the scan
// cache needs for candidate matching and scoring.
//
// Element bodies are always handled without their two-byte id/length header.
// Vendor specific bodies keep their OUI and OUI type so the parsers can
// verify them.
package ieee80211

import (
	"bytes"

	"github.com/anstrom/scancache/internal/errors"
)

// Element identifiers.
const (
	ElemSSID           uint8 = 0
	ElemDSParams       uint8 = 3
	ElemCountry        uint8 = 7
	ElemQBSSLoad       uint8 = 11
	ElemHTCap          uint8 = 45
	ElemRSN            uint8 = 48
	ElemMobilityDomain uint8 = 54
	ElemHTInfo         uint8 = 61
	ElemWAPI           uint8 = 68
	ElemRRM            uint8 = 70
	ElemExtCaps        uint8 = 127
	ElemVHTCap         uint8 = 191
	ElemVHTOp          uint8 = 192
	ElemVendor         uint8 = 221
	ElemFILSIndication uint8 = 240
	ElemExtension      uint8 = 255
)

// Extension element identifiers, carried in the first body byte of an
// ElemExtension element.
const (
	ExtElemESP   uint8 = 11
	ExtElemHECap uint8 = 35
)

// Vendor OUI prefixes including the OUI type byte.
var (
	ouiWPA        = []byte{0x00, 0x50, 0xf2, 0x01}
	ouiWMM        = []byte{0x00, 0x50, 0xf2, 0x02}
	ouiWCN        = []byte{0x00, 0x50, 0xf2, 0x04}
	ouiP2P        = []byte{0x50, 0x6f, 0x9a, 0x09}
	ouiMBOOCE     = []byte{0x50, 0x6f, 0x9a, 0x16}
	ouiAdaptive11 = []byte{0x00, 0x40, 0x96, 0x2c}
)

const (
	wmmSubtypeInfo  = 0x00
	wmmSubtypeParam = 0x01
)

// MaxElementLen is the largest body a single element can carry.
const MaxElementLen = 255

// Element is one raw information element.
type Element struct {
	ID   uint8
	Body []byte
}

// SplitElements walks a raw element stream. An element whose declared length
// runs past the end of the buffer is reported as malformed.
func SplitElements(raw []byte) ([]Element, error) {
	var out []Element
	off := 0
	for off < len(raw) {
		if len(raw)-off < 2 {
			return out, errors.NewIEError(raw[off], off, "truncated element header")
		}
		id := raw[off]
		n := int(raw[off+1])
		if off+2+n > len(raw) {
			return out, errors.NewIEError(id, off, "element length exceeds buffer")
		}
		out = append(out, Element{ID: id, Body: raw[off+2 : off+2+n]})
		off += 2 + n
	}
	return out, nil
}

// ElementSet holds the bodies of the elements the cache tracks. A nil slice
// means the element was not advertised.
type ElementSet struct {
	SSID           []byte
	DSParams       []byte
	Country        []byte
	QBSSLoad       []byte
	HTCap          []byte
	HTInfo         []byte
	RSN            []byte
	WPA            []byte
	WAPI           []byte
	VHTCap         []byte
	VHTOp          []byte
	HECap          []byte
	ESP            []byte
	ExtCaps        []byte
	MobilityDomain []byte
	FILSIndication []byte
	MBOOCE         []byte
	WMMInfo        []byte
	WMMParam       []byte
	WCN            []byte
	RRM            []byte
	P2P            bool
	Adaptive11r    bool
}

// ParseElements splits raw and sorts the elements into an ElementSet. The
// first occurrence of an element wins. The set built from the elements that
// could be read is returned alongside any framing error.
func ParseElements(raw []byte) (*ElementSet, error) {
	elems, err := SplitElements(raw)
	set := &ElementSet{}
	for _, e := range elems {
		set.add(e)
	}
	return set, err
}

func (s *ElementSet) add(e Element) {
	keep := func(dst *[]byte) {
		if *dst == nil {
			*dst = e.Body
		}
	}

	switch e.ID {
	case ElemSSID:
		keep(&s.SSID)
	case ElemDSParams:
		keep(&s.DSParams)
	case ElemCountry:
		keep(&s.Country)
	case ElemQBSSLoad:
		keep(&s.QBSSLoad)
	case ElemHTCap:
		keep(&s.HTCap)
	case ElemRSN:
		keep(&s.RSN)
	case ElemMobilityDomain:
		keep(&s.MobilityDomain)
	case ElemHTInfo:
		keep(&s.HTInfo)
	case ElemWAPI:
		keep(&s.WAPI)
	case ElemRRM:
		keep(&s.RRM)
	case ElemExtCaps:
		keep(&s.ExtCaps)
	case ElemVHTCap:
		keep(&s.VHTCap)
	case ElemVHTOp:
		keep(&s.VHTOp)
	case ElemFILSIndication:
		keep(&s.FILSIndication)
	case ElemExtension:
		if len(e.Body) == 0 {
			return
		}
		switch e.Body[0] {
		case ExtElemHECap:
			keep(&s.HECap)
		case ExtElemESP:
			keep(&s.ESP)
		}
	case ElemVendor:
		s.addVendor(e)
	}
}

func (s *ElementSet) addVendor(e Element) {
	body := e.Body
	switch {
	case bytes.HasPrefix(body, ouiWPA):
		if s.WPA == nil {
			s.WPA = body
		}
	case bytes.HasPrefix(body, ouiWMM) && len(body) > 4:
		switch body[4] {
		case wmmSubtypeInfo:
			if s.WMMInfo == nil {
				s.WMMInfo = body
			}
		case wmmSubtypeParam:
			if s.WMMParam == nil {
				s.WMMParam = body
			}
		}
	case bytes.HasPrefix(body, ouiWCN):
		if s.WCN == nil {
			s.WCN = body
		}
	case bytes.HasPrefix(body, ouiMBOOCE):
		if s.MBOOCE == nil {
			s.MBOOCE = body
		}
	case bytes.HasPrefix(body, ouiP2P):
		s.P2P = true
	case bytes.HasPrefix(body, ouiAdaptive11):
		if len(body) > 4 && body[4]&0x01 != 0 {
			s.Adaptive11r = true
		}
	}
}

// IsWPA reports whether a vendor element body carries the WPA OUI and type.
func IsWPA(body []byte) bool {
	return len(body) >= 4 && le32(body) == WPAOUI|uint32(WPAOUIType)<<24
}

// IsMBOOCE reports whether a vendor element body carries the MBO/OCE OUI.
func IsMBOOCE(body []byte) bool {
	return len(body) >= 4 && be32(body) == MBOOCEOUI
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
