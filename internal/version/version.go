// ABOUTME: Version constants for jamstream binaries
// ABOUTME: Reported in logs and mDNS advertisements
package version

const (
	Product      = "Jamstream"
	Version      = "0.1.0"
	Manufacturer = "Parlor Chat"
)
