package agreement

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta is the forensic client metadata captured with an acceptance.
// It is resolved once at the edge and passed in explicitly; the ledger never
// reads ambient request state.
type ClientMeta struct {
	OriginAddress string
	UserAgent     string
}

// ExtractClientMeta resolves the origin address with fixed precedence: the
// first token of X-Forwarded-For, else X-Real-IP, else the raw connection
// address with any port stripped.
func ExtractClientMeta(remoteAddr string, headers http.Header) ClientMeta {
	meta := ClientMeta{UserAgent: headers.Get("User-Agent")}

	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			meta.OriginAddress = first
			return meta
		}
	}

	if real := strings.TrimSpace(headers.Get("X-Real-IP")); real != "" {
		meta.OriginAddress = real
		return meta
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		meta.OriginAddress = host
	} else {
		meta.OriginAddress = strings.TrimSpace(remoteAddr)
	}
	return meta
}
