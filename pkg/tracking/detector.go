package tracking

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"

	unknownName    = "Unknown"
	unknownVersion = "0"
)

// mobileViewportMax is the widest screen the keyword fallback treats as a phone.
const mobileViewportMax = 768

type browserRule struct {
	name    string
	matches func(ua string) bool
	version *regexp.Regexp
}

func contains(tokens ...string) func(string) bool {
	return func(ua string) bool {
		for _, t := range tokens {
			if strings.Contains(ua, t) {
				return true
			}
		}
		return false
	}
}

// Several engines embed each other's tokens (Edge and Opera carry "Chrome",
// Chrome carries "Safari"), so the more specific tokens come first.
var browserRules = []browserRule{
	{"Firefox", contains("Firefox"), regexp.MustCompile(`Firefox/([\d.]+)`)},
	{"Samsung Browser", contains("SamsungBrowser"), regexp.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{"Opera", contains("Opera", "OPR"), regexp.MustCompile(`(?:OPR|Opera)/([\d.]+)`)},
	{"Internet Explorer", contains("Trident"), regexp.MustCompile(`(?:rv:|MSIE )([\d.]+)`)},
	{"Edge Legacy", contains("Edge"), regexp.MustCompile(`Edge/([\d.]+)`)},
	{"Edge", contains("Edg"), regexp.MustCompile(`Edg(?:A|iOS)?/([\d.]+)`)},
	{"Chrome", contains("Chrome"), regexp.MustCompile(`Chrome/([\d.]+)`)},
	{"Safari", contains("Safari"), regexp.MustCompile(`Version/([\d.]+)`)},
}

var (
	windowsNT      = regexp.MustCompile(`Windows NT (\d+\.\d+)`)
	macVersion     = regexp.MustCompile(`Mac OS X (\d+(?:[._]\d+)+)`)
	androidVersion = regexp.MustCompile(`Android (\d+(?:\.\d+)*)`)
	iosVersion     = regexp.MustCompile(`OS (\d+(?:_\d+)*) like Mac OS X`)
	mobileKeywords = regexp.MustCompile(`(?i)mobile|android|iphone|ipod|blackberry|iemobile|opera mini|opera mobi|kindle|silk|webos`)
)

var windowsReleases = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
	"6.0":  "Vista",
	"5.1":  "XP",
}

// Detect classifies a user agent and screen. It never panics: a branch whose
// version token is missing reports "Unknown" as the version.
func Detect(userAgent string, screen Screen) DeviceInfo {
	info := DeviceInfo{
		Browser:          unknownName,
		BrowserVersion:   unknownVersion,
		OS:               unknownName,
		OSVersion:        unknownVersion,
		Device:           DeviceDesktop,
		ScreenResolution: fmt.Sprintf("%dx%d", screen.Width, screen.Height),
	}

	for _, rule := range browserRules {
		if rule.matches(userAgent) {
			info.Browser = rule.name
			info.BrowserVersion = submatch(rule.version, userAgent)
			break
		}
	}

	iosDevice := contains("iPhone", "iPad", "iPod")(userAgent)
	switch {
	case strings.Contains(userAgent, "Windows"):
		info.OS = "Windows"
		info.OSVersion = unknownName
		if nt := submatch(windowsNT, userAgent); nt != unknownName {
			if release, ok := windowsReleases[nt]; ok {
				info.OSVersion = release
			}
		}
	case strings.Contains(userAgent, "Mac OS X") && !iosDevice:
		info.OS = "macOS"
		info.OSVersion = dotted(submatch(macVersion, userAgent))
	case strings.Contains(userAgent, "Android"):
		info.OS = "Android"
		info.OSVersion = submatch(androidVersion, userAgent)
		if strings.Contains(userAgent, "Mobile") {
			info.Device = DeviceMobile
		} else {
			info.Device = DeviceTablet
		}
	case iosDevice:
		info.OS = "iOS"
		info.OSVersion = dotted(submatch(iosVersion, userAgent))
		if strings.Contains(userAgent, "iPad") {
			info.Device = DeviceTablet
		} else {
			info.Device = DeviceMobile
		}
	case strings.Contains(userAgent, "Linux"):
		info.OS = "Linux"
		info.OSVersion = unknownName
	}

	if info.Device == DeviceDesktop && mobileKeywords.MatchString(userAgent) &&
		screen.Width > 0 && screen.Width <= mobileViewportMax {
		info.Device = DeviceMobile
	}

	return info
}

// DetectEnvironment runs Detect against the host, returning the zero value
// outside a browser-like environment.
func DetectEnvironment(env Environment) DeviceInfo {
	if env == nil {
		return DeviceInfo{}
	}
	return Detect(env.UserAgent(), env.Screen())
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 || m[1] == "" {
		return unknownName
	}
	return m[1]
}

func dotted(version string) string {
	return strings.ReplaceAll(version, "_", ".")
}
