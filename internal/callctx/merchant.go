package callctx

import (
	"fmt"
	"strings"
)

// Environment selects the provider endpoint set.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// ParseEnvironment maps a configuration string onto an Environment.
// Anything other than "production" selects the sandbox.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), string(Production)) {
		return Production
	}
	return Sandbox
}

// Credentials represent the authentication details for the payment provider.
type Credentials struct {
	LoginID        string
	TransactionKey string
}

// Redacted returns a form of the credentials safe to log.
func (c Credentials) Redacted() string {
	if c.TransactionKey == "" {
		return c.LoginID + ":<empty>"
	}
	return c.LoginID + ":****"
}

// Merchant is the immutable merchant configuration established at startup.
// It is copied by value into every CallContext and is never mutated while
// requests are in flight.
type Merchant struct {
	ID          string
	Provider    string
	Environment Environment
	Credentials Credentials
}

// Validate checks that a merchant using a real provider has credentials.
func (m Merchant) Validate() error {
	if m.Provider == "" {
		return fmt.Errorf("merchant %q: provider is required", m.ID)
	}
	if m.Provider != "mock" && (m.Credentials.LoginID == "" || m.Credentials.TransactionKey == "") {
		return fmt.Errorf("merchant %q: provider %s requires login id and transaction key", m.ID, m.Provider)
	}
	return nil
}
