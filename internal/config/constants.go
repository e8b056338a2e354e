package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval = 5 * time.Minute
	LocationRetention  = 7 * 24 * time.Hour
	DeviceOnlineWindow = 5 * time.Minute
)

// Pairing
const (
	MinPairingWindow        = 4 * time.Minute
	MaxPairingWindow        = 30 * time.Minute
	MaxActiveCodesPerFamily = 5
	PairingCodeRetention    = time.Hour
	CodeGenerateAttempts    = 10
)

// Rate limits
const (
	RedeemRateLimit   = 10
	RedeemRateWindow  = time.Minute
	UploadRateLimit   = 120
	UploadRateWindow  = time.Minute
)

// Tokens
const (
	DeviceTokenExpiry   = 365 * 24 * time.Hour
	OperatorTokenExpiry = 30 * 24 * time.Hour
	TokenIssuer         = "sentinelr"
)

// Client side
const (
	APIRequestTimeout    = 15 * time.Second
	FeedBackoffInitial   = time.Second
	FeedBackoffMax       = 30 * time.Second
	FeedPingInterval     = 30 * time.Second
	LocationSampleWindow = 5 * time.Second
)
