// Package request builds gateway payloads from validated operator input and the
// session configuration captured at build time.
package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/validation"
)

const (
	minPort = 1
	maxPort = 65535
)

// ParseConfiguration turns raw session settings into a Configuration. The port is parsed
// as a base-10 integer; anything else fails with a ConfigurationError instead of being
// coerced.
func ParseConfiguration(s domain.Settings) (domain.Configuration, error) {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return domain.Configuration{}, &domain.ConfigurationError{Field: "host", Value: s.Host, Err: domain.ErrInvalidHost}
	}

	port, err := ParsePort(s.Port)
	if err != nil {
		return domain.Configuration{}, err
	}

	policy := strings.TrimSpace(s.Policy)
	if policy == "" {
		return domain.Configuration{}, &domain.ConfigurationError{Field: "policy", Value: s.Policy, Err: domain.ErrInvalidPolicy}
	}

	return domain.Configuration{Host: host, Port: port, Policy: policy}, nil
}

// ParsePort parses port text in base 10 and checks the 1–65535 range. Surrounding
// whitespace is ignored; a sign, an empty value or any other character is rejected.
func ParsePort(text string) (int, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
		return 0, &domain.ConfigurationError{
			Field: "port",
			Value: text,
			Err:   fmt.Errorf("%w: sign not allowed", domain.ErrInvalidPort),
		}
	}
	port, err := strconv.ParseInt(trimmed, 10, 32)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &domain.ConfigurationError{
			Field: "port",
			Value: text,
			Err:   fmt.Errorf("%w: %v", domain.ErrInvalidPort, err),
		}
	}
	if port < minPort || port > maxPort {
		return 0, &domain.ConfigurationError{
			Field: "port",
			Value: text,
			Err:   fmt.Errorf("%w: must be between %d and %d", domain.ErrInvalidPort, minPort, maxPort),
		}
	}
	return int(port), nil
}

// Protect validates data and builds a ProtectRequest.
func Protect(data string, cfg domain.Configuration) (domain.ProtectRequest, error) {
	if err := validation.ValidateProtect(data); err != nil {
		return domain.ProtectRequest{}, err
	}
	return domain.ProtectRequest{
		Data:   data,
		Policy: cfg.Policy,
		Host:   cfg.Host,
		Port:   cfg.Port,
	}, nil
}

// Reveal validates the token and builds a RevealRequest. The token is sent as entered;
// an empty username is omitted from the payload.
func Reveal(protectedData, username string, cfg domain.Configuration) (domain.RevealRequest, error) {
	if err := validation.ValidateReveal(protectedData); err != nil {
		return domain.RevealRequest{}, err
	}
	return domain.RevealRequest{
		ProtectedData: protectedData,
		Username:      strings.TrimSpace(username),
		Policy:        cfg.Policy,
		Host:          cfg.Host,
		Port:          cfg.Port,
	}, nil
}

// BulkProtect splits block into items and builds a BulkProtectRequest.
func BulkProtect(block string, cfg domain.Configuration) (domain.BulkProtectRequest, error) {
	items, err := validation.ValidateBulk(block)
	if err != nil {
		return domain.BulkProtectRequest{}, err
	}
	return domain.BulkProtectRequest{
		DataArray: items,
		Policy:    cfg.Policy,
		Host:      cfg.Host,
		Port:      cfg.Port,
	}, nil
}

// BulkReveal splits block into tokens and builds a BulkRevealRequest.
func BulkReveal(block, username string, cfg domain.Configuration) (domain.BulkRevealRequest, error) {
	items, err := validation.ValidateBulk(block)
	if err != nil {
		return domain.BulkRevealRequest{}, err
	}
	return domain.BulkRevealRequest{
		ProtectedDataArray: items,
		Username:           strings.TrimSpace(username),
		Policy:             cfg.Policy,
		Host:               cfg.Host,
		Port:               cfg.Port,
	}, nil
}
