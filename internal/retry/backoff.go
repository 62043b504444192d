// Package retry holds the delay schedules used between attempts.
//
// Linear is the authentication schedule. Exponential paces restarts of
// the engine worker process.
package retry

import "time"

// Linear grows the delay by Step per attempt from Base and caps it at Max.
type Linear struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

// DefaultLinear is the login retry schedule: 1500, 2000, 2500, 3000, 3000...
var DefaultLinear = Linear{
	Base: 1000 * time.Millisecond,
	Step: 500 * time.Millisecond,
	Max:  3000 * time.Millisecond,
}

// Delay returns the wait after failed attempt n (1-based).
func (l Linear) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := l.Base + time.Duration(n)*l.Step
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}

// Backoff returns min(1000+500n, 3000) milliseconds.
func Backoff(n int) time.Duration {
	return DefaultLinear.Delay(n)
}

// Exponential doubles Initial on every attempt, capped at Max.
type Exponential struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// DefaultExponential returns 5 retries starting at 1s, capped at 30s.
func DefaultExponential() Exponential {
	return Exponential{
		MaxRetries: 5,
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
	}
}

// Delay returns Initial * 2^(n-1), capped at Max.
func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := e.Initial
	for i := 1; i < n; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return d
}
