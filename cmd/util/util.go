package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (HKV_<FLAG>)
	EnvPrefix = "hkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitEnv loads .env files and makes viper read HKV_* environment variables
func InitEnv() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupClientFlags adds the connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the hKV server. Multiple endpoints can be specified as a comma-separated list, requests are spread round-robin"))

	key = "prefix"
	cmd.PersistentFlags().String(key, "/data", WrapString("The route prefix of the data api"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 4, WrapString("Idle connections kept per endpoint"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request that could not reach a server"))

	key = "environment"
	cmd.PersistentFlags().String(key, "default", WrapString("The environment to operate on"))

	key = "db"
	cmd.PersistentFlags().String(key, "default", WrapString("The database inside the environment to operate on"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	endpoints := strings.Split(viper.GetString("endpoints"), ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}
	return &common.ClientConfig{
		Endpoints:              endpoints,
		Prefix:                 viper.GetString("prefix"),
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
	}
}

// GetDatabase returns the configured environment and database names
func GetDatabase() (string, string) {
	return viper.GetString("environment"), viper.GetString("db")
}

// ParseKey interprets a command line key: a JSON array is a tuple key, a
// number is a numeric key, everything else is a string.
func ParseKey(arg string) any {
	v := codec.DecodeParam(arg)
	switch v.(type) {
	case []any, float64:
		return v
	default:
		return arg
	}
}

// ParseValue interprets a command line value with the extended JSON codec;
// text that is not JSON is used as a string.
func ParseValue(arg string) any {
	return codec.DecodeParam(arg)
}

// FormatValue renders a value for output
func FormatValue(v any) string {
	data, err := codec.Encode(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
