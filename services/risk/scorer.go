package risk

import (
	"net"
	"strings"
)

// Signals are the request attributes the scorer weighs. History carries
// aggregates computed elsewhere; the scorer itself performs no I/O.
type Signals struct {
	ClientIP    string
	UserAgent   string
	RequestRate float64 // requests/minute observed for this token
	History     HistoricalSignals
}

// HistoricalSignals summarizes prior behavior for the token
type HistoricalSignals struct {
	RecentFailures int  // failed validations in the recent window
	NewClient      bool // first time this IP/UA pair was seen for the token
}

// Weights for each signal. The sum caps the score at 1.0.
const (
	weightMissingUserAgent = 0.20
	weightScriptedClient   = 0.15
	weightPublicIP         = 0.10
	weightHighRequestRate  = 0.25
	weightRecentFailures   = 0.20
	weightNewClient        = 0.10

	// requestRateCeiling is the requests/minute at which the rate signal
	// saturates.
	requestRateCeiling = 120.0

	// failureCeiling is the recent-failure count at which that signal
	// saturates.
	failureCeiling = 5
)

var scriptedAgentMarkers = []string{"curl", "wget", "python-requests", "go-http-client", "libwww"}

// Score produces a risk score in [0,1] from request signals. Pure and
// deterministic: identical inputs always yield the identical score. The
// score informs elevated logging and step-up policy; it never invalidates an
// otherwise-valid token.
func Score(s Signals) float64 {
	score := 0.0

	ua := strings.TrimSpace(strings.ToLower(s.UserAgent))
	if ua == "" {
		score += weightMissingUserAgent
	} else {
		for _, marker := range scriptedAgentMarkers {
			if strings.Contains(ua, marker) {
				score += weightScriptedClient
				break
			}
		}
	}

	if ip := net.ParseIP(s.ClientIP); ip != nil && !ip.IsPrivate() && !ip.IsLoopback() {
		score += weightPublicIP
	}

	if s.RequestRate > 0 {
		rate := s.RequestRate / requestRateCeiling
		if rate > 1 {
			rate = 1
		}
		score += weightHighRequestRate * rate
	}

	if s.History.RecentFailures > 0 {
		failures := float64(s.History.RecentFailures) / failureCeiling
		if failures > 1 {
			failures = 1
		}
		score += weightRecentFailures * failures
	}

	if s.History.NewClient {
		score += weightNewClient
	}

	if score > 1 {
		score = 1
	}
	return score
}

// Elevated reports whether a score warrants elevated logging
func Elevated(score float64) bool {
	return score >= 0.6
}
