package metrics

// Config carries the constant labels attached to every collector.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() map[string]string {
	service := c.ServiceName
	if service == "" {
		service = "fakturo"
	}
	env := c.Environment
	if env == "" {
		env = "unknown"
	}
	return map[string]string{"service": service, "env": env}
}
