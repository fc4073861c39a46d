package id

import "fmt"

// AccountLabel is the "label" part of an agent identity — the device or
// connection instance a single account may have several of concurrently.
type AccountLabel string

// Audience is the tenant scope authorization and upload routing key off.
type Audience string

// AgentIdentity is the full principal: an account scoped to an audience,
// addressed through a particular connection label.
type AgentIdentity struct {
	Label    AccountLabel
	Account  AgentID
	Audience Audience
}

func (a AgentIdentity) String() string {
	return fmt.Sprintf("%s.%s.%s", a.Label, a.Account, a.Audience)
}
