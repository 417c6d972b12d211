package config

import "os"

// ConfigPath returns the config file location: $FLEETD_CONFIG or the
// default next to the working directory.
func ConfigPath() string {
	if v := os.Getenv("FLEETD_CONFIG"); v != "" {
		return v
	}
	return "./fleetd.jsonc"
}

// DotenvPath returns the .env file location.
func DotenvPath() string {
	if v := os.Getenv("FLEETD_DOTENV"); v != "" {
		return v
	}
	return "./.env"
}
