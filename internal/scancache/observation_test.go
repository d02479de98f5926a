package scancache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/errors"
)

func TestObservationEntry(t *testing.T) {
	// SSID "lab", DS parameter set channel 11
	const ies = "00036c6162" + "03010b"

	var obs Observation
	require.NoError(t, json.Unmarshal([]byte(`{
		"bssid": "02:00:00:00:00:0b",
		"capability": 1,
		"rssi": -55,
		"phy_mode": "11ng_ht20",
		"ies": "`+ies+`",
		"mlme_info": {"rank": 3}
	}`), &obs))

	e, err := obs.Entry()
	require.NoError(t, err)
	assert.Equal(t, "lab", e.SSID)
	assert.EqualValues(t, 11, e.Channel)
	assert.Equal(t, PhyMode11NGHT20, e.PhyMode)
	assert.Equal(t, -55, e.RSSIRaw)
	assert.Equal(t, FrameBeacon, e.FrameSubtype)
	assert.EqualValues(t, 3, e.MLMEInfo.Rank)
	assert.Equal(t, []byte{11}, e.IEs.DSParams)

	ctx, _ := newTestContext(t, Options{})
	require.NoError(t, ctx.Ingest(e))
	assert.Equal(t, 1, ctx.NumEntries())
}

func TestObservationEntryErrors(t *testing.T) {
	bssid := BSSID{0x02, 0, 0, 0, 0, 1}
	tests := []struct {
		name string
		obs  Observation
		code errors.ErrorCode
	}{
		{"missing bssid", Observation{Channel: 1}, errors.CodeInvalidObservation},
		{"bad hex", Observation{BSSID: bssid, Channel: 1, IEs: "zz"}, errors.CodeInvalidObservation},
		{"truncated element", Observation{BSSID: bssid, Channel: 1, IEs: "0005616263"}, errors.CodeMalformedIE},
		{"no channel", Observation{BSSID: bssid}, errors.CodeInvalidObservation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.obs.Entry()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestObservationProbeResponse(t *testing.T) {
	obs := Observation{BSSID: BSSID{2, 0, 0, 0, 0, 2}, Frequency: 5180, ProbeResponse: true}
	e, err := obs.Entry()
	require.NoError(t, err)
	assert.Equal(t, FrameProbeResponse, e.FrameSubtype)
}
