// file: model/ratelimit.go

package model

import (
	"fmt"
	"time"
)

// IdentityKind tags the namespace of a rate-limit identity.
type IdentityKind string

const (
	IdentityUser IdentityKind = "user"
	IdentityIP   IdentityKind = "ip"
)

// IdentityClass selects which limit of a Policy applies.
type IdentityClass string

const (
	ClassAuthenticated   IdentityClass = "authenticated"
	ClassUnauthenticated IdentityClass = "unauthenticated"
)

// RateLimitKey identifies one sliding window. A user id and an IP address
// with the same textual value never share a window because Kind is part of
// the key.
type RateLimitKey struct {
	Kind     IdentityKind `json:"identity_kind"`
	Value    string       `json:"identity"`
	Endpoint string       `json:"endpoint_path"`
}

// String returns an unambiguous flat encoding of the key. The value is
// length-prefixed so that separators inside it cannot forge another key.
func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.Kind, len(k.Value), k.Value, k.Endpoint)
}

// Class reports the identity class the key belongs to.
func (k RateLimitKey) Class() IdentityClass {
	if k.Kind == IdentityUser {
		return ClassAuthenticated
	}
	return ClassUnauthenticated
}

// RateLimitRecord is the persisted request log of one key. Timestamps are
// epoch seconds in arrival order.
type RateLimitRecord struct {
	Key        RateLimitKey `json:"-"`
	Timestamps []int64      `json:"timestamps"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Decision is the outcome of one check-and-record call.
type Decision struct {
	Allowed bool `json:"allowed"`
	Limit   int  `json:"limit"`
	// Remaining is the quota left after this request was counted.
	Remaining int `json:"remaining"`
	// ResetAfter is in seconds and never below 1.
	ResetAfter int64 `json:"reset_after"`
	// ResetAt is ResetAfter expressed as an epoch second.
	ResetAt int64 `json:"reset_at"`
}

// Policy holds the per-endpoint limits.
type Policy struct {
	AuthenticatedLimit   int   `json:"authenticated_limit"`
	UnauthenticatedLimit int   `json:"unauthenticated_limit"`
	WindowSeconds        int64 `json:"window_seconds"`
}

// LimitFor returns the limit that applies to class.
func (p Policy) LimitFor(class IdentityClass) int {
	if class == ClassAuthenticated {
		return p.AuthenticatedLimit
	}
	return p.UnauthenticatedLimit
}

// Route binds a gated path to its policy.
type Route struct {
	Path        string
	RequireAuth bool
	Policy      Policy
}

// AdmissionRequest carries everything the gate needs about one request.
// An empty Credential means the header was absent.
type AdmissionRequest struct {
	Credential string
	SourceIP   string
	Endpoint   string
	Policy     Policy
}

// Admission is the result of admitting a request. AuthErr records why the
// request was treated as unauthenticated, if it carried a credential at all.
type Admission struct {
	Decision      Decision
	OwnerID       string
	IdentityClass IdentityClass
	Key           RateLimitKey
	AuthErr       error
}

// Authenticated reports whether a valid token resolved to an owner.
func (a *Admission) Authenticated() bool {
	return a != nil && a.OwnerID != ""
}
