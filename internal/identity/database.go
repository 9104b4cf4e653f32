// internal/identity/database.go - Flight controller identification database
package identity

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/mavlink"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
)

const unknown = "Unknown"

// usbID is a vendor/product pair
type usbID struct {
	vendor  uint16
	product uint16
}

// DeviceInfo names a known board
type DeviceInfo struct {
	Manufacturer string
	ProductName  string
}

// VendorInfo names a vendor and the products it is known to ship
type VendorInfo struct {
	Name     string
	Fallback string
	products map[uint16]string
}

// DeviceDatabase resolves manufacturer and product names for a flight controller
type DeviceDatabase struct {
	known   map[usbID]DeviceInfo
	vendors map[uint16]*VendorInfo
	boards  map[uint16]DeviceInfo
}

// NewDeviceDatabase creates and initializes the device database
func NewDeviceDatabase() *DeviceDatabase {
	db := &DeviceDatabase{
		known:   make(map[usbID]DeviceInfo),
		vendors: make(map[uint16]*VendorInfo),
		boards:  make(map[uint16]DeviceInfo),
	}
	db.initializeDatabase()
	return db
}

// Lookup resolves names for a vendor/product pair. The exact table wins,
// then the vendor's product list, then the board type held in the upper
// 16 bits of boardVersion when the vendor itself is unknown.
func (db *DeviceDatabase) Lookup(vendorID, productID uint16, boardVersion uint32) DeviceInfo {
	if info, ok := db.known[usbID{vendorID, productID}]; ok {
		return info
	}

	if vendor, ok := db.vendors[vendorID]; ok {
		name, ok := vendor.products[productID]
		if !ok {
			name = vendor.Fallback
		}
		return DeviceInfo{Manufacturer: vendor.Name, ProductName: name}
	}

	if info, ok := db.boards[uint16(boardVersion>>16)]; ok {
		return info
	}
	return DeviceInfo{Manufacturer: unknown, ProductName: unknown}
}

// Resolve builds the identity of a device from its AUTOPILOT_VERSION.
func (db *DeviceDatabase) Resolve(v *mavlink.AutopilotVersion) *model.DeviceIdentity {
	info := db.Lookup(v.VendorID, v.ProductID, v.BoardVersion)
	return &model.DeviceIdentity{
		FlightSwVersion:         v.FlightSwVersion,
		MiddlewareSwVersion:     v.MiddlewareSwVersion,
		OsSwVersion:             v.OsSwVersion,
		BoardVersion:            v.BoardVersion,
		VendorID:                v.VendorID,
		ProductID:               v.ProductID,
		FlightCustomVersion:     customVersion(v.FlightCustomVersion),
		MiddlewareCustomVersion: customVersion(v.MiddlewareCustomVersion),
		OsCustomVersion:         customVersion(v.OsCustomVersion),
		UID:                     FormatUID(v),
		ProductName:             info.ProductName,
		Manufacturer:            info.Manufacturer,
	}
}

// FormatUID renders the 8-byte hardware id as 16 upper-case hex digits.
// The first 8 bytes of uid2 are used when present, otherwise the uid
// field in little-endian byte order.
func FormatUID(v *mavlink.AutopilotVersion) string {
	var sb strings.Builder
	if v.UID2[0] != 0 {
		for _, b := range v.UID2[:8] {
			fmt.Fprintf(&sb, "%02X", b)
		}
		return sb.String()
	}
	uid := v.UID
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&sb, "%02X", byte(uid))
		uid >>= 8
	}
	return sb.String()
}

func customVersion(raw [8]byte) string {
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw[:])
}

func (db *DeviceDatabase) addKnown(vendor, product uint16, manufacturer, name string) {
	db.known[usbID{vendor, product}] = DeviceInfo{Manufacturer: manufacturer, ProductName: name}
}

func (db *DeviceDatabase) addVendor(id uint16, name, fallback string, products map[uint16]string) {
	db.vendors[id] = &VendorInfo{Name: name, Fallback: fallback, products: products}
}

// initializeDatabase populates the known devices database
func (db *DeviceDatabase) initializeDatabase() {
	// PX4/Pixhawk family
	db.addKnown(0x26AC, 0x0011, "3DR", "Pixhawk 1")
	db.addKnown(0x26AC, 0x0012, "3DR", "Pixhawk 2")
	db.addKnown(0x26AC, 0x0013, "3DR", "Pixhawk 3")
	db.addKnown(0x26AC, 0x0014, "3DR", "Pixhawk 4")
	db.addKnown(0x26AC, 0x0015, "3DR", "Pixhawk 5")
	db.addKnown(0x26AC, 0x0016, "3DR", "Pixhawk 6")
	db.addKnown(0x26AC, 0x0017, "3DR", "Pixhawk Mini")
	db.addKnown(0x26AC, 0x0018, "3DR", "Pixhawk Nano")
	db.addKnown(0x26AC, 0x0019, "3DR", "Pixhawk Micro")

	// Holybro
	db.addKnown(0x16D0, 0x0DBA, "Holybro", "Pixhawk 4")
	db.addKnown(0x16D0, 0x0DBB, "Holybro", "Pixhawk 4 Mini")
	db.addKnown(0x16D0, 0x0DBC, "Holybro", "Pixhawk 5X")
	db.addKnown(0x16D0, 0x0DBD, "Holybro", "Pixhawk 6X")
	db.addKnown(0x16D0, 0x0DBE, "Holybro", "Pixhawk 6C")
	db.addKnown(0x16D0, 0x0DBF, "Holybro", "Pix32 v5")
	db.addKnown(0x16D0, 0x0DC0, "Holybro", "Pix32 v6")

	// CUAV
	db.addKnown(0x1FC9, 0x0001, "CUAV", "Pixhack v3")
	db.addKnown(0x1FC9, 0x0002, "CUAV", "Pixhack v5")
	db.addKnown(0x1FC9, 0x0003, "CUAV", "X7")
	db.addKnown(0x1FC9, 0x0004, "CUAV", "Nora")
	db.addKnown(0x1FC9, 0x0005, "CUAV", "V5+")
	db.addKnown(0x1FC9, 0x0006, "CUAV", "V5 Nano")

	// ArduPilot
	db.addKnown(0x0483, 0x5740, "ArduPilot", "ChibiOS")
	db.addKnown(0x1209, 0x5740, "ArduPilot", "PX4")

	// Hex/ProfiCNC
	db.addKnown(0x1209, 0x5741, "Hex", "Pixhawk 2.1")
	db.addKnown(0x1209, 0x5742, "Hex", "Pixracer")
	db.addKnown(0x1209, 0x5743, "Hex", "Pixhawk Cube")

	// mRo
	db.addKnown(0x1209, 0x5744, "mRo", "Pixhawk 1")
	db.addKnown(0x1209, 0x5745, "mRo", "X2.1")
	db.addKnown(0x1209, 0x5746, "mRo", "Control Zero")

	db.addKnown(0x1209, 0x5747, "Auterion", "Skynode")
	db.addKnown(0x1209, 0x5748, "ModalAI", "Flight Core v1")
	db.addKnown(0x1209, 0x5749, "ModalAI", "Flight Core v2")
	db.addKnown(0x8086, 0x0AF5, "Intel", "Aero Ready to Fly Drone")
	db.addKnown(0x05BA, 0x0011, "Qualcomm", "Snapdragon Flight")

	// DJI
	db.addKnown(0x2CA3, 0x0010, "DJI", "N3")
	db.addKnown(0x2CA3, 0x0011, "DJI", "A3")
	db.addKnown(0x2CA3, 0x0012, "DJI", "M600")

	// Vendor ids as reported by QGroundControl
	db.addVendor(0x26AC, "PX4", "Unknown PX4", map[uint16]string{
		0x0010: "PX4FMU v1",
		0x0011: "PX4FMU v2/v3",
		0x0012: "PX4FMU v4",
		0x0013: "PX4FMU v4PRO",
		0x0032: "PX4FMU v5",
		0x0033: "PX4FMU v5X",
		0x0038: "PX4FMU v6C",
		0x0036: "PX4FMU v6U",
		0x0035: "PX4FMU v6X",
		0x001D: "PX4FMU v6XRT",
		0x0030: "MindPX v2",
	})
	db.addVendor(0x1546, "u-blox", "Unknown u-blox", map[uint16]string{
		0x01a5: "u-blox 5",
		0x01a6: "u-blox 6",
		0x01a7: "u-blox 7",
		0x01a8: "u-blox 8",
	})
	db.addVendor(0x20A0, "OpenPilot", "Unknown OpenPilot", map[uint16]string{
		0x415E: "Revolution",
		0x415C: "OPLink",
		0x41D0: "Sparky2",
		0x415D: "CC3D",
	})
	db.addVendor(0x0483, "STMicroelectronics", "Unknown STM", nil)
	db.addVendor(0x1209, "ArduPilot", "Unknown ArduPilot", map[uint16]string{
		0x5740: "ChibiOS",
		0x5741: "ChibiOS2",
	})
	db.addVendor(0x1FC9, "DragonLink", "Unknown DragonLink", map[uint16]string{
		0x0083: "DragonLink",
	})
	db.addVendor(0x2DAE, "CubePilot", "Unknown Cube", map[uint16]string{
		0x1011: "Cube Black/Black+",
		0x1001: "Cube Black Bootloader",
		0x1016: "Cube Orange",
		0x1017: "Cube Orange2",
		0x1058: "Cube Orange+",
		0x1002: "Cube Yellow Bootloader",
		0x1012: "Cube Yellow",
		0x1005: "Cube Purple Bootloader",
		0x1015: "Cube Purple",
	})
	db.addVendor(0x3163, "CUAV", "Unknown CUAV", map[uint16]string{
		0x004C: "Nora/X7Pro",
	})
	db.addVendor(0x3162, "Holybro", "Unknown Holybro", map[uint16]string{
		0x0047: "Pixhawk4",
		0x0049: "PH4 Mini",
		0x004B: "Durandal",
	})
	db.addVendor(0x27AC, "Laser Navigation", "Unknown VRBrain", map[uint16]string{
		0x1151: "VRBrain v51",
		0x1152: "VRBrain v52",
		0x1154: "VRBrain v54",
		0x1910: "VRCore v10",
		0x1351: "VRUBrain v51",
	})

	// PX4 board types, upper 16 bits of board_version
	db.boards[0x0009] = DeviceInfo{"3DR", "Pixhawk 1"}
	db.boards[0x0010] = DeviceInfo{"3DR", "Pixhawk 2"}
	db.boards[0x0015] = DeviceInfo{"Hex", "Pixracer"}
	db.boards[0x0016] = DeviceInfo{"mRo", "Pixhawk 3 Pro"}
	db.boards[0x0017] = DeviceInfo{"Holybro", "Pixhawk 4"}
	db.boards[0x0018] = DeviceInfo{"Holybro", "Pixhawk 4 Pro"}
	db.boards[0x0019] = DeviceInfo{"Holybro", "Pixhawk 5X"}
	db.boards[0x001A] = DeviceInfo{"Holybro", "Pixhawk 6X"}
}
