package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "CLOUDFERRY_CONFIG"
	EnvAPIURL  = "CLOUDFERRY_API_URL"
	EnvToken   = "CLOUDFERRY_TOKEN"
	EnvUserID  = "CLOUDFERRY_USER_ID"
	EnvPushURL = "CLOUDFERRY_PUSH_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	APIURL     string
	Token      string
	UserID     string
	PushURL    string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIURL:     os.Getenv(EnvAPIURL),
		Token:      os.Getenv(EnvToken),
		UserID:     os.Getenv(EnvUserID),
		PushURL:    os.Getenv(EnvPushURL),
	}
}
