package cms

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrEntryNotFound is returned when the requested entry or content type
	// does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnavailable is returned when the delivery API cannot be reached or
	// answers with a server error.
	ErrUnavailable = errors.New("cms unavailable")

	// ErrNotConfigured is returned by New when credentials are missing.
	ErrNotConfigured = errors.New("cms not configured")

	// ErrUnknownRegion is returned for an unrecognized region name.
	ErrUnknownRegion = errors.New("unknown cms region")
)

// Error is a non-2xx response from the delivery API.
type Error struct {
	StatusCode int
	Message    string

	// Code is the Contentstack error_code, 0 if absent.
	Code int

	// Op is the operation that failed (e.g., "FetchEntry").
	Op string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrEntryNotFound:
		return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusUnprocessableEntity
	case ErrUnavailable:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// wrapError attaches an operation name to API errors.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		apiErr.Op = op
		return apiErr
	}
	return fmt.Errorf("%s: %w", op, err)
}

// regionHosts maps region names to delivery API hosts.
var regionHosts = map[string]string{
	"US":       "cdn.contentstack.io",
	"NA":       "cdn.contentstack.io",
	"EU":       "eu-cdn.contentstack.com",
	"AZURE_NA": "azure-na-cdn.contentstack.com",
	"AZURE_EU": "azure-eu-cdn.contentstack.com",
	"GCP_NA":   "gcp-na-cdn.contentstack.com",
}

// RegionHost returns the delivery host for a region. Empty means US.
func RegionHost(region string) (string, error) {
	if region == "" {
		region = "US"
	}
	host, ok := regionHosts[strings.ToUpper(region)]
	if !ok {
		names := make([]string, 0, len(regionHosts))
		for name := range regionHosts {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("%w %q (expected one of %s)", ErrUnknownRegion, region, strings.Join(names, ", "))
	}
	return host, nil
}
