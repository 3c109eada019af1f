package proxy

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// ServiceName appears in the liveness message ("<name> backend is running").
	ServiceName string

	// AllowOrigins is the CORS allow list; "*" allows any origin.
	AllowOrigins string
}
