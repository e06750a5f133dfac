package deliver

import "feedrelay/internal/resilience/faults"

// Policy is the per-kind reaction to a failed send. Retry budgets come from
// the backoff strategy of the same kind.
type Policy struct {
	// UsesBreaker feeds the failure into the endpoint's circuit breaker.
	UsesBreaker bool
	// Queueable sends the message to the replay queue once retries are spent.
	Queueable bool
}

// Policies maps each failure kind to its Policy.
type Policies map[faults.Kind]Policy

// DefaultPolicies returns the built-in table. Client errors are final and
// never touch the breaker; timeouts count against the breaker but are not
// replayed.
func DefaultPolicies() Policies {
	return Policies{
		faults.ClientError:       {UsesBreaker: false, Queueable: false},
		faults.Timeout:           {UsesBreaker: true, Queueable: false},
		faults.RateLimited:       {UsesBreaker: false, Queueable: true},
		faults.NetworkError:      {UsesBreaker: true, Queueable: true},
		faults.ServerError:       {UsesBreaker: true, Queueable: true},
		faults.ConnectionRefused: {UsesBreaker: true, Queueable: true},
	}
}

// For returns the policy of kind. Unknown kinds are treated as network
// errors.
func (p Policies) For(kind faults.Kind) Policy {
	if pol, ok := p[kind]; ok {
		return pol
	}
	return p[faults.NetworkError]
}
