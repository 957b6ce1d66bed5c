package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUplink_Defaults(t *testing.T) {
	var u Uplink
	require.NoError(t, json.Unmarshal([]byte(`{"ts":1700000000,"seq":7,"v_raw":520}`), &u))

	assert.Equal(t, 25.0, u.Temperature())
	assert.Equal(t, 100, u.Battery())
	_, ok := u.SignalStrength()
	assert.False(t, ok)
}

func TestUplink_ZeroRSSIIsAbsent(t *testing.T) {
	var u Uplink
	require.NoError(t, json.Unmarshal([]byte(`{"rssi":0}`), &u))

	_, ok := u.SignalStrength()
	assert.False(t, ok)
}

func TestParseUplink(t *testing.T) {
	up, err := ParseUplink([]byte(`{"ts":1700000000,"v_raw":0,"temp":24}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, up.VRaw)
	assert.Equal(t, 24.0, up.Temperature())
	assert.Equal(t, int64(1700000000), up.TS)

	up, err = ParseUplink([]byte(`{"v_raw":520.5}`))
	require.NoError(t, err)
	assert.Equal(t, 520.5, up.VRaw)
}

func TestParseUplink_Rejected(t *testing.T) {
	cases := map[string]string{
		"null":         `null`,
		"empty object": `{}`,
		"null v_raw":   `{"v_raw":null,"temp":24}`,
		"array":        `[1,2]`,
		"not json":     `v_raw=520`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUplink([]byte(payload))
			assert.Error(t, err)
		})
	}

	_, err := ParseUplink([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingVRaw)
}

func TestUplink_Timestamp(t *testing.T) {
	received := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

	u := Uplink{TS: 0}
	assert.Equal(t, received, u.Timestamp(received))

	u = Uplink{TS: 1700000000}
	assert.Equal(t, time.Unix(1700000000, 0), u.Timestamp(received))

	u = Uplink{TS: 1700000000123}
	assert.Equal(t, time.UnixMilli(1700000000123), u.Timestamp(received))
}

func TestNewSensorReading(t *testing.T) {
	var u Uplink
	require.NoError(t, json.Unmarshal([]byte(
		`{"ts":1700000000,"seq":42,"v_raw":520,"temp":24,"humi":55.5,"bat":88,"rssi":-71,"net":"4G","err":3}`,
	), &u))

	r := NewSensorReading("GAS001", &u, 520, time.Now())

	assert.Equal(t, "GAS001", r.SN)
	assert.Equal(t, time.Unix(1700000000, 0), r.Time)
	assert.Equal(t, 520.0, r.VRaw)
	assert.Equal(t, 520.0, r.PPM)
	assert.Equal(t, 24.0, r.Temp)
	assert.Equal(t, 55.5, r.Humi)
	assert.Equal(t, 88, r.Bat)
	assert.Equal(t, -71, r.RSSI)
	assert.Equal(t, 3, r.ErrCode)
	assert.Equal(t, int64(42), r.Seq)
}
