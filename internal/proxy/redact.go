package proxy

import "net/url"

// redact strips credentials from a proxy URL before it reaches the logs.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.User == nil {
		return endpoint
	}
	u.User = nil
	return u.String()
}
