package logging

import (
	"net/url"

	"go.uber.org/zap"
)

// URL logs raw with any password in its userinfo replaced.
func URL(key, raw string) zap.Field {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return zap.String(key, raw)
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return zap.String(key, u.String())
}

// Event names a statechart event.
func Event(name string) zap.Field {
	return zap.String("event", name)
}

// State names a statechart state.
func State(id string) zap.Field {
	return zap.String("state", id)
}
