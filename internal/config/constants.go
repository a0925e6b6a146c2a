package config

// Constants defining default values for application configuration
const (
	DefaultDBPath  = "./relay.db"
	DefaultBaseURL = "http://localhost:8080"
	DefaultListen  = "" // Empty string disables the ops server

	DefaultWorkerCount     = 0    // 0 means use runtime.NumCPU()
	DefaultSchedule        = "1h" // Used by sources without a schedule
	DefaultResyncMinutes   = 5    // Minutes between source list reloads
	DefaultRetentionDays   = 30   // Days to keep delivery attempts before purging
	DefaultFetchTimeout    = 30   // Seconds
	DefaultFetchRetries    = 2
	DefaultDeliveryTimeout = 15 // Seconds

	DefaultUserAgent = "fedifeed-relay/1.0"
	DefaultLogLevel  = "info"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RELAY_"
)
