package email

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const imapsPort = "993"

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com",
	"googlemail.com": "imap.gmail.com",
	"outlook.com":    "outlook.office365.com",
	"hotmail.com":    "outlook.office365.com",
	"live.com":       "outlook.office365.com",
	"yahoo.com":      "imap.mail.yahoo.com",
	"icloud.com":     "imap.mail.me.com",
	"me.com":         "imap.mail.me.com",
	"fastmail.com":   "imap.fastmail.com",
	"gmx.com":        "imap.gmx.com",
	"gmx.de":         "imap.gmx.net",
	"web.de":         "imap.web.de",
	"yandex.ru":      "imap.yandex.ru",
	"mail.ru":        "imap.mail.ru",
	"zoho.com":       "imap.zoho.com",
	"aol.com":        "imap.aol.com",
}

// Resolver finds the IMAP server of an address
type Resolver struct {
	reachable func(host string) bool
	lookupMX  func(domain string) ([]*net.MX, error)
}

// NewResolver creates a resolver that dials candidate hosts over TCP
func NewResolver() *Resolver {
	return &Resolver{
		reachable: func(host string) bool {
			conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, imapsPort), 3*time.Second)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		},
		lookupMX: net.LookupMX,
	}
}

// ResolveIMAPServer determines the IMAP server for an email address
func ResolveIMAPServer(email string) (string, error) {
	return NewResolver().Resolve(email)
}

// Resolve returns host:port for the address: a known provider, the first
// reachable of imap., mail. or the bare domain, a host derived from the MX
// record, and finally imap.<domain>.
func (r *Resolver) Resolve(email string) (string, error) {
	domain := DomainOf(email)
	if domain == "" {
		return "", fmt.Errorf("invalid email address %q", email)
	}

	if host, ok := knownIMAPServers[domain]; ok {
		return net.JoinHostPort(host, imapsPort), nil
	}

	candidates := []string{"imap." + domain, "mail." + domain, domain}
	if mx, err := r.lookupMX(domain); err == nil && len(mx) > 0 {
		// mx.example.net -> imap.example.net, mail.example.net
		if _, base, ok := strings.Cut(strings.TrimSuffix(mx[0].Host, "."), "."); ok && base != domain {
			candidates = append(candidates, "imap."+base, "mail."+base)
		}
	}

	for _, host := range candidates {
		if r.reachable(host) {
			return net.JoinHostPort(host, imapsPort), nil
		}
	}
	return net.JoinHostPort("imap."+domain, imapsPort), nil
}

// DomainOf extracts the lowercased domain of an email address
func DomainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
