package conf

// SystemConfig default general settings.
var SystemConfig = &System{
	Listen:   ":5480",
	Debug:    false,
	LogLevel: "info",
}

// DAVConfig default engine settings.
var DAVConfig = &DAV{
	Prefix: "/dav",
	ProtectedProps: []string{
		"{DAV:}getcontentlength",
		"{DAV:}getetag",
		"{DAV:}getlastmodified",
		"{DAV:}resourcetype",
		"{DAV:}quota-used-bytes",
		"{DAV:}quota-available-bytes",
		"{DAV:}supported-report-set",
	},
	AllowDepthInfinity: false,
}

// RangePolicyConfig default range abuse caps, calibrated to the
// guidance of RFC 7233 section 6.1.
var RangePolicyConfig = &RangePolicy{
	MaxRanges:   512,
	MaxOverlaps: 2,
	MaxDisorder: 16,
}

const defaultConf = `[System]
Debug = false
Listen = :5480
LogLevel = info

[DAV]
Prefix = /dav
AllowDepthInfinity = false
`
