// internal/identity/database_test.go
package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/mavlink"
)

func TestDeviceDatabase_Lookup(t *testing.T) {
	db := NewDeviceDatabase()

	tests := []struct {
		name         string
		vendor       uint16
		product      uint16
		board        uint32
		manufacturer string
		productName  string
	}{
		{"vendor switch exact product", 0x2DAE, 0x1016, 0, "CubePilot", "Cube Orange"},
		{"board fallback for unknown vendor", 0x9999, 0x0001, 0x00150042, "Hex", "Pixracer"},
		{"unknown on both axes", 0x9999, 0x0001, 0x00ff0000, "Unknown", "Unknown"},
		{"known table wins over vendor switch", 0x26AC, 0x0011, 0, "3DR", "Pixhawk 1"},
		{"vendor switch for product missing from known table", 0x26AC, 0x0032, 0, "PX4", "PX4FMU v5"},
		{"unknown product of known vendor", 0x2DAE, 0x7777, 0x00150000, "CubePilot", "Unknown Cube"},
		{"vendor without product list", 0x0483, 0x1234, 0, "STMicroelectronics", "Unknown STM"},
		{"known table for shared vendor id", 0x0483, 0x5740, 0, "ArduPilot", "ChibiOS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := db.Lookup(tt.vendor, tt.product, tt.board)
			assert.Equal(t, tt.manufacturer, info.Manufacturer)
			assert.Equal(t, tt.productName, info.ProductName)
		})
	}
}

func TestResolve(t *testing.T) {
	v := &mavlink.AutopilotVersion{
		UID:                 0x0807060504030201,
		FlightSwVersion:     0x010e00ff,
		MiddlewareSwVersion: 1,
		OsSwVersion:         2,
		BoardVersion:        0x00320000,
		VendorID:            0x2DAE,
		ProductID:           0x1016,
		FlightCustomVersion: [8]byte{'6', 'f', '0', 'b', 0, 'x'},
		OsCustomVersion:     [8]byte{'1', '2', '3', '4', '5', '6', '7', '8'},
	}

	id := NewDeviceDatabase().Resolve(v)
	assert.Equal(t, "CubePilot", id.Manufacturer)
	assert.Equal(t, "Cube Orange", id.ProductName)
	assert.Equal(t, "0102030405060708", id.UID)
	assert.Equal(t, "6f0b", id.FlightCustomVersion)
	assert.Equal(t, "", id.MiddlewareCustomVersion)
	assert.Equal(t, "12345678", id.OsCustomVersion)

	raw, err := id.JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(0x2DAE), decoded["vendor_id"])
	assert.Equal(t, float64(0x00320000), decoded["board_version"])
	assert.Equal(t, "Cube Orange", decoded["product_name"])
	assert.Len(t, decoded, 12)
}

func TestFormatUID_PrefersUID2(t *testing.T) {
	v := &mavlink.AutopilotVersion{
		UID:  0xffffffffffffffff,
		UID2: [18]byte{0xab, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09},
	}
	assert.Equal(t, "AB01020304050607", FormatUID(v))
}
