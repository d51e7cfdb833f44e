package ports

// BackgroundService is a long-running component of the daemon
type BackgroundService interface {
	// Start launches the service without blocking
	Start() error

	// Stop shuts the service down and waits for in-flight work
	Stop() error
}
