// internal/model/identity.go
package model

import "encoding/json"

// DeviceIdentity is what an identified flight controller reports about itself
type DeviceIdentity struct {
	FlightSwVersion         uint32 `json:"flight_sw_version"`
	MiddlewareSwVersion     uint32 `json:"middleware_sw_version"`
	OsSwVersion             uint32 `json:"os_sw_version"`
	BoardVersion            uint32 `json:"board_version"`
	VendorID                uint16 `json:"vendor_id"`
	ProductID               uint16 `json:"product_id"`
	FlightCustomVersion     string `json:"flight_custom_version"`
	MiddlewareCustomVersion string `json:"middleware_custom_version"`
	OsCustomVersion         string `json:"os_custom_version"`
	UID                     string `json:"uid"`
	ProductName             string `json:"product_name"`
	Manufacturer            string `json:"manufacturer"`
}

// JSON renders the identity as published on the linker info topic
func (d *DeviceIdentity) JSON() ([]byte, error) {
	return json.Marshal(d)
}
