package server

import (
	"time"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
)

// mDNS service discovery defaults
var (
	MDNSServiceType = "_nfc-bridge._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization, " + APISecretHeader
)

const (
	// APISecretHeader carries the API secret when it is not passed as ?secret=
	APISecretHeader = "X-API-Secret"

	DefaultPort            = 18080
	DefaultShutdownTimeout = 5 * time.Second

	// maxRequestBody bounds JSON bodies; tag memory dumps are a few KiB at most.
	maxRequestBody = 1 << 20

	wsWriteTimeout = 10 * time.Second
)
