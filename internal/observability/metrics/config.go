package metrics

// Config scopes metric const-labels to a service instance.
type Config struct {
	ServiceName string
	Environment string
}
