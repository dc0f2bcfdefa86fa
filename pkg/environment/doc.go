// Package environment names the deployment environments a jobkit process can
// run in and parses them from configuration.
//
// Environment implements encoding.TextUnmarshaler, so it can be used directly
// as a field of an env-tagged config struct:
//
//	type Config struct {
//	    Env environment.Environment `env:"APP_ENV" envDefault:"development"`
//	}
//
// The logger package uses the value to pick its format and level presets.
package environment
