package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoProviders = errors.New("no providers available")

// ConfigError is a provider misconfiguration (missing base URL or
// credential). It fails the call immediately and is never retried.
type ConfigError struct {
	ProviderID string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s is misconfigured: %v", e.ProviderID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DispatchError is returned when every candidate failed or was skipped. It
// names the operation and the providers involved, never credentials.
type DispatchError struct {
	Operation string
	Tried     []string
	Skipped   []string
	// Message is the last recorded failure, e.g. "p1 /v1/chat/completions 503: overloaded".
	Message string
}

func (e *DispatchError) Error() string {
	if e.Message == "" {
		return ErrNoProviders.Error()
	}
	return e.Message
}

// Is lets errors.Is(err, ErrNoProviders) match a dispatch that never
// reached an upstream.
func (e *DispatchError) Is(target error) bool {
	return target == ErrNoProviders && len(e.Tried) == 0
}

// Detail describes the failed stage for API error responses.
func (e *DispatchError) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Operation)
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, "; tried [%s]", strings.Join(e.Tried, ", "))
	}
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, "; circuit open [%s]", strings.Join(e.Skipped, ", "))
	}
	fmt.Fprintf(&b, ": %s", e.Error())
	return b.String()
}
