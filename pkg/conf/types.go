package conf

// System general server settings.
type System struct {
	Listen      string `validate:"required"`
	Debug       bool
	LogLevel    string `validate:"oneof=debug info warning error"`
	GracePeriod int    `validate:"gte=0"`
}

// DAV settings of the WebDAV engine.
type DAV struct {
	// Prefix is the URL prefix the engine is mounted on.
	Prefix string `validate:"required,startswith=/"`
	// ProtectedProps lists property names (Clark notation, e.g.
	// "{DAV:}getetag") that PROPPATCH must reject with 403.
	ProtectedProps []string
	// AllowDepthInfinity permits Depth: infinity PROPFIND traversal.
	// When false, any non-zero depth collapses to 1.
	AllowDepthInfinity bool
	// Features lists extra compliance tokens advertised in the DAV
	// header next to the built-in "1, 3, extended-mkcol".
	Features []string
	// SpeedLimit caps download speed in bytes per second, 0 for no cap.
	SpeedLimit int64 `validate:"gte=0"`
	// Quota is the storage quota in bytes reported through the DAV
	// quota properties, 0 to disable quota reporting.
	Quota int64 `validate:"gte=0"`
}

// RangePolicy caps protecting the range engine from abusive requests.
// Zero values fall back to the defaults in defaults.go.
type RangePolicy struct {
	MaxRanges   int `validate:"gte=0"`
	MaxOverlaps int `validate:"gte=0"`
	MaxDisorder int `validate:"gte=0"`
}
