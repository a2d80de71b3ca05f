package credential

import "time"

// Lifetime is the fixed client-side credential lifetime. The service does
// not report an expiry; one hour from issue is the protocol contract.
const Lifetime = time.Hour

// Credential authenticates calls made after a successful negotiation. It is
// owned by the client that negotiated it and replaced wholesale on
// re-negotiation.
type Credential struct {
	Token         string
	SharedSecret  string
	ExpirationUTC time.Time
}

func (c Credential) Expired(now time.Time) bool {
	return c.Token == "" || !now.UTC().Before(c.ExpirationUTC)
}
