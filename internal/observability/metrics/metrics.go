package metrics

import "strings"

// Config carries the service labels stamped onto every metric.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) labels() (string, string) {
	service := strings.TrimSpace(c.ServiceName)
	if service == "" {
		service = "orderhub"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return service, environment
}
