package logger

import (
	"log/slog"
	"time"
)

// Helpers return an empty Attr for zero inputs so they can be passed to slog
// without nil checks.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func ClientIP(ip string) slog.Attr {
	return slog.String("client_ip", ip)
}

func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}

// Key is the store key an operation touched.
func Key(key string) slog.Attr {
	if key == "" {
		return slog.Attr{}
	}
	return slog.String("key", key)
}

// Class is the rate limit endpoint class.
func Class(name string) slog.Attr {
	return slog.String("class", name)
}

func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}
