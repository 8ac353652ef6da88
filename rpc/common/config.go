package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/hKV/lib/registry"
)

// --------------------------------------------------------------------------
// HTTP server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the HTTP server.
type ServerConfig struct {
	// HTTP api settings
	Endpoint  string
	Prefix    string // route prefix of the data api (e.g. /data)
	MaxBodyMB int64

	// request timeout, 0 disables it
	TimeoutSecond int64

	// Logging configuration
	LogLevel string

	// Environments and databases
	Registry registry.Config
}

// DataPrefix returns the normalized route prefix ("/data" if unset, never a trailing slash).
func (c *ServerConfig) DataPrefix() string {
	p := strings.TrimRight(c.Prefix, "/")
	if c.Prefix == "" {
		return "/data"
	}
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// HTTP settings
	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)
	addField("Data Prefix", c.DataPrefix())
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Body", fmt.Sprintf("%d MB", c.MaxBodyMB))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	sb.WriteString(c.Registry.String())
	return sb.String()
}

// --------------------------------------------------------------------------
// HTTP client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	Prefix                 string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))
	addField("Data Prefix", c.Prefix)

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
