package auth

import "sync"

// Static is a fixed owner identity.
type Static string

// CurrentOwner implements reconcile.Owner.
func (s Static) CurrentOwner() string { return string(s) }

// Current is a switchable sign-in state. The zero value is signed out.
type Current struct {
	mu    sync.RWMutex
	owner string
}

// SignIn makes owner the current identity.
func (c *Current) SignIn(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = owner
}

// SignOut clears the current identity.
func (c *Current) SignOut() {
	c.SignIn("")
}

// CurrentOwner implements reconcile.Owner.
func (c *Current) CurrentOwner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// Resolve picks the owner for a client: the configured owner if set,
// otherwise the subject of token. It returns "" when neither is usable.
func Resolve(configured, token string) string {
	if configured != "" {
		return configured
	}
	if token == "" {
		return ""
	}
	sub, err := SubjectOf(token)
	if err != nil {
		return ""
	}
	return sub
}
