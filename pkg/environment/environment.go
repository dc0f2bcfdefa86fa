package environment

import (
	"errors"
	"fmt"
	"strings"
)

// Environment represents application environment.
type Environment string

const (
	// Development for local runs and tests.
	Development Environment = "development"
	// Staging for pre-production deployments.
	Staging Environment = "staging"
	// Production for production deployments.
	Production Environment = "production"
)

// ErrUnknownEnvironment is returned by Parse for unrecognised names
var ErrUnknownEnvironment = errors.New("unknown environment")

// Parse accepts the full names and the short forms "dev", "stage" and "prod".
// Matching is case-insensitive. An empty string parses as Development.
func Parse(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", string(Development):
		return Development, nil
	case "stage", string(Staging):
		return Staging, nil
	case "prod", string(Production):
		return Production, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownEnvironment)
	}
}

// UnmarshalText lets env loaders decode APP_ENV straight into an Environment
func (e *Environment) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e Environment) String() string {
	return string(e)
}

func (e Environment) IsDevelopment() bool { return e == Development }
func (e Environment) IsStaging() bool     { return e == Staging }
func (e Environment) IsProduction() bool  { return e == Production }
