package domain

import "strings"

// DeviceUnknown is the sentinel classification for user agents that match no marker.
const DeviceUnknown = "unknown"

// DeviceInfo is the rule-based classification of a raw user-agent string.
type DeviceInfo struct {
	DeviceType string
	Browser    string
	OS         string
}

// Marker order is load-bearing: ties resolve to the first match, so more
// specific markers precede the generic ones they contain.
var (
	deviceTypeMarkers = []struct{ marker, label string }{
		{"mobile", "mobile"},
		{"android", "mobile"},
		{"iphone", "mobile"},
		{"ipad", "tablet"},
		{"tablet", "tablet"},
	}

	browserMarkers = []struct{ marker, label string }{
		{"edg", "edge"},
		{"opr", "opera"},
		{"opera", "opera"},
		{"chrome", "chrome"},
		{"firefox", "firefox"},
		{"safari", "safari"},
	}

	osMarkers = []struct{ marker, label string }{
		{"windows", "windows"},
		{"android", "android"},
		{"iphone", "ios"},
		{"ipad", "ios"},
		{"ios", "ios"},
		{"mac", "macos"},
		{"linux", "linux"},
	}
)

// ClassifyUserAgent derives a coarse device, browser, and OS label from the
// user-agent string via case-insensitive substring matching. This is a
// heuristic, not a parser; unknown input yields the "unknown" sentinel in
// every position, and a missing device marker defaults to desktop when the
// agent matched anything else.
func ClassifyUserAgent(userAgent string) DeviceInfo {
	info := DeviceInfo{
		DeviceType: DeviceUnknown,
		Browser:    DeviceUnknown,
		OS:         DeviceUnknown,
	}

	agent := strings.ToLower(strings.TrimSpace(userAgent))
	if agent == "" {
		return info
	}

	for _, entry := range deviceTypeMarkers {
		if strings.Contains(agent, entry.marker) {
			info.DeviceType = entry.label
			break
		}
	}

	for _, entry := range browserMarkers {
		if strings.Contains(agent, entry.marker) {
			info.Browser = entry.label
			break
		}
	}

	for _, entry := range osMarkers {
		if strings.Contains(agent, entry.marker) {
			info.OS = entry.label
			break
		}
	}

	if info.DeviceType == DeviceUnknown && (info.Browser != DeviceUnknown || info.OS != DeviceUnknown) {
		info.DeviceType = "desktop"
	}

	return info
}
