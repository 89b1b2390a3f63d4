package provider

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateConfig checks the base_url and extra headers a deployment's
// provider config carries before an adapter is allowed to build a client
// around them. Deployment config is operator-authored but can flow in from
// a hot-reloaded file (internal/config.Manager), so it gets the same
// SSRF-conscious treatment as untrusted input: reject userinfo/query/
// fragment and, unless explicitly allowed, loopback/private/link-local
// hosts, and reject header names that would let a deployment entry
// smuggle a second Authorization value past the one the adapter sets.
func ValidateConfig(cfg Config) error {
	if err := validateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
		return err
	}
	for name := range cfg.Headers {
		if strings.EqualFold(name, "authorization") {
			return fmt.Errorf("deployment %q: extra header %q conflicts with adapter-managed auth", cfg.Name, name)
		}
	}
	return nil
}

func validateBaseURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url scheme %q (must be http or https)", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("invalid base_url host %q", u.Host)
	}

	if u.User != nil {
		return fmt.Errorf("base_url must not contain userinfo")
	}

	if u.RawQuery != "" {
		return fmt.Errorf("base_url must not contain query")
	}

	if u.Fragment != "" {
		return fmt.Errorf("base_url must not contain fragment")
	}

	if !allowPrivate && isPrivateOrLoopbackHost(u.Hostname()) {
		return fmt.Errorf("base_url host %q is private/loopback (set allow_private_base_url to override)", u.Hostname())
	}

	return nil
}

func isPrivateOrLoopbackHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}

	// Reject other non-global unicast ranges (e.g. multicast).
	return !ip.IsGlobalUnicast()
}
