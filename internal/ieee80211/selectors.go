package ieee80211

// Suite selectors are compared as little-endian 32-bit words: the OUI in the
// low three bytes and the suite type in the high byte.
const (
	RSNOUI     uint32 = 0xac0f00
	WPAOUI     uint32 = 0xf25000
	WAPIOUI    uint32 = 0x721400
	WPAOUIType uint8  = 0x01
	MBOOCEOUI  uint32 = 0x506f9a16

	// CCKMAKM is the vendor AKM used by both WPA and RSN CCKM.
	CCKMAKM uint32 = 0x00964000
	// DPPAKM is the Wi-Fi Alliance DPP AKM selector.
	DPPAKM uint32 = 0x029a6f50
)

// Cipher suite types.
const (
	CipherNone     uint8 = 0x00
	CipherWEP40    uint8 = 0x01
	CipherTKIP     uint8 = 0x02
	CipherReserved uint8 = 0x03
	CipherCCMP     uint8 = 0x04
	CipherWEP104   uint8 = 0x05
	CipherAESCMAC  uint8 = 0x06
	CipherGCMP128  uint8 = 0x08
	CipherGCMP256  uint8 = 0x09
	CipherCCMP256  uint8 = 0x0a
)

// AKM suite types.
const (
	AKM8021X        uint8 = 0x01
	AKMPSK          uint8 = 0x02
	AKMFT8021X      uint8 = 0x03
	AKMFTPSK        uint8 = 0x04
	AKM8021XSHA256  uint8 = 0x05
	AKMPSKSHA256    uint8 = 0x06
	AKMSAE          uint8 = 0x08
	AKMSuiteBSHA256 uint8 = 0x0b
	AKMSuiteBSHA384 uint8 = 0x0c
	AKMFILSSHA256   uint8 = 0x0e
	AKMFILSSHA384   uint8 = 0x0f
	AKMFTFILSSHA256 uint8 = 0x10
	AKMFTFILSSHA384 uint8 = 0x11
	AKMOWE          uint8 = 0x12
)

// WAPI AKM suite types.
const (
	WAICertOrSMS4 uint8 = 0x01
	WAIPSK        uint8 = 0x02
)

// Element versions.
const (
	RSNVersion  uint16 = 1
	WPAVersion  uint16 = 1
	WAPIVersion uint16 = 1
)

// RSN capability bits.
const (
	RSNCapMFPRequired uint16 = 0x40
	RSNCapMFPCapable  uint16 = 0x80
)

const (
	// MaxCipherSuites bounds every suite list.
	MaxCipherSuites = 6
	// PMKIDLen is the size of one PMKID.
	PMKIDLen = 16
)

// RSNSelector builds an RSN suite selector.
func RSNSelector(suite uint8) uint32 {
	return uint32(suite)<<24 | RSNOUI
}

// WPASelector builds a WPA suite selector.
func WPASelector(suite uint8) uint32 {
	return uint32(suite)<<24 | WPAOUI
}

// WAPISelector builds a WAPI suite selector.
func WAPISelector(suite uint8) uint32 {
	return uint32(suite)<<24 | WAPIOUI
}

// HasSuite reports whether selector appears in suites.
func HasSuite(suites []uint32, selector uint32) bool {
	for _, s := range suites {
		if s == selector {
			return true
		}
	}
	return false
}
