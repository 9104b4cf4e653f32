// internal/mavlink/crc.go
package mavlink

const crcInit uint16 = 0xffff

// accumulate folds b into crc using the X.25 (MCRF4XX) polynomial.
func accumulate(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func checksum(data []byte, extra byte) uint16 {
	crc := crcInit
	for _, b := range data {
		crc = accumulate(crc, b)
	}
	return accumulate(crc, extra)
}
