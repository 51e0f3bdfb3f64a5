package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidator checks the URLs ttsync sends to the server: the server base
// URL and the feed URLs of new subscriptions.
type URLValidator struct {
	// AllowLocalhost determines if localhost URLs are permitted
	AllowLocalhost bool
	// AllowPrivateIPs determines if private IP addresses are permitted
	AllowPrivateIPs bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewURLValidator creates a validator that rejects local and private hosts.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		AllowLocalhost:  false,
		AllowPrivateIPs: false,
		MaxLength:       2048,
	}
}

// NewPermissiveURLValidator creates a validator for servers and feeds on the
// local network.
func NewPermissiveURLValidator() *URLValidator {
	return &URLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// ValidateAndNormalize validates a feed URL and returns the normalized version
func (v *URLValidator) ValidateAndNormalize(input string) (string, error) {
	parsedURL, err := v.parse(input)
	if err != nil {
		return "", err
	}
	return parsedURL.String(), nil
}

// ServerURL validates the server base URL and returns it with a trailing
// slash. A URL pointing at the API endpoint itself is trimmed to the base.
func (v *URLValidator) ServerURL(input string) (string, error) {
	parsedURL, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return "", fmt.Errorf("server URL must not carry a query or fragment")
	}

	p := strings.TrimSuffix(parsedURL.Path, "/")
	p = strings.TrimSuffix(p, "/api")
	parsedURL.Path = p + "/"
	return parsedURL.String(), nil
}

func (v *URLValidator) parse(input string) (*url.URL, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}

	if strings.ContainsAny(input, "<>\"'`") {
		return nil, fmt.Errorf("URL contains invalid characters")
	}

	// Default to HTTPS when no protocol is given
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	parsedURL, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("URL must use http or https protocol")
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}

	if err := v.validateHostSecurity(parsedURL.Host); err != nil {
		return nil, err
	}
	if err := v.validatePathSecurity(parsedURL); err != nil {
		return nil, err
	}
	return parsedURL, nil
}

// validateHostSecurity performs security checks on the hostname
func (v *URLValidator) validateHostSecurity(host string) error {
	hostname := host
	if strings.Contains(host, ":") {
		var err error
		hostname, _, err = net.SplitHostPort(host)
		if err != nil {
			return fmt.Errorf("invalid host format: %w", err)
		}
	}

	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}

	if !v.AllowPrivateIPs {
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not permitted")
		}
	}

	if isSuspiciousHostname(hostname) {
		return fmt.Errorf("suspicious hostname detected")
	}

	return nil
}

// validatePathSecurity performs security checks on the URL path and query
func (v *URLValidator) validatePathSecurity(parsedURL *url.URL) error {
	if strings.Contains(parsedURL.Path, "..") {
		return fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	if strings.Contains(parsedURL.RawQuery, "<script") || strings.Contains(parsedURL.RawQuery, "javascript:") {
		return fmt.Errorf("suspicious query parameters detected")
	}

	return nil
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// isSuspiciousHostname flags broadcast addresses and hex-obfuscated names.
func isSuspiciousHostname(hostname string) bool {
	hostname = strings.ToLower(hostname)
	switch hostname {
	case "0.0.0.0", "255.255.255.255", "localhost.com":
		return true
	}

	if strings.Count(hostname, ".") != 3 || net.ParseIP(hostname) != nil {
		return false
	}

	// Dotted quads written in hex, like 0x7f.0x0.0x0.0x1 or 7f.00.00.01.
	for _, part := range strings.Split(hostname, ".") {
		part = strings.TrimPrefix(part, "0x")
		if part == "" || !isHexString(part) {
			return false
		}
	}
	return true
}

// isHexString checks if a string contains only hexadecimal characters
func isHexString(s string) bool {
	for _, char := range s {
		if !((char >= '0' && char <= '9') || (char >= 'a' && char <= 'f') || (char >= 'A' && char <= 'F')) {
			return false
		}
	}
	return true
}
