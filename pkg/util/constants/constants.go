package constants

const (
	// Querent is the metric namespace used by all components.
	Querent = "querent"
)
