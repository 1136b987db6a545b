package audit

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RequestInfo is the caller metadata attached to every event logged during a request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Path      string
	Method    string
}

type requestInfoKey struct{}

func ContextWithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

func RequestInfoFrom(r *http.Request) RequestInfo {
	return RequestInfo{
		IPAddress: ResolveClientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
}

// ResolveClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// the socket peer. Oversized or unparsable values become InvalidIP.
func ResolveClientIP(r *http.Request) string {
	candidate := ""
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		candidate = strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	} else if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		candidate = realIP
	} else if r.RemoteAddr != "" {
		candidate = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			candidate = host
		}
	}

	return ValidateIP(candidate)
}

func ValidateIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return UnknownIP
	}
	if len(value) > maxIPLength {
		return InvalidIP
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return InvalidIP
	}
	return addr.String()
}
