package session

import "time"

// Policy groups the timing knobs that differ between connection
// profiles. The profile is fixed at session creation.
type Policy struct {
	Name           string
	ReconnectDelay time.Duration // after an ordinary stream drop
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration // zero means no deadline
	MarkOnline     bool
}

// Standard is the default profile: conservative timeouts, stays
// invisible (no read receipts are triggered by staying "offline").
var Standard = Policy{
	Name:           "standard",
	ReconnectDelay: 5 * time.Second,
	ConnectTimeout: 30 * time.Second,
	QueryTimeout:   60 * time.Second,
	MarkOnline:     false,
}

// Resilient trades visibility for connection stability: longer timeouts,
// slower reconnect cadence, presence marked online.
var Resilient = Policy{
	Name:           "resilient",
	ReconnectDelay: 10 * time.Second,
	ConnectTimeout: 60 * time.Second,
	QueryTimeout:   0,
	MarkOnline:     true,
}

// PolicyByName maps a config profile name to its policy. Unknown names
// fall back to Standard.
func PolicyByName(name string) Policy {
	if name == Resilient.Name {
		return Resilient
	}
	return Standard
}

// Delays around credential wipes and restarts. Shorter than the profile
// reconnect delay: a wiped session pairs from scratch and should offer
// the new QR promptly.
var (
	wipeReconnectDelay     = 3 * time.Second
	wipeFailReconnectDelay = 5 * time.Second
	restartPause           = 2 * time.Second
)
