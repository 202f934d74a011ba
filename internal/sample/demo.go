// Package sample provides the reference service implementations used to
// exercise the host end to end (spec.md §8 scenarios 1 and 2): a plain
// method exposed under its own name, and one exposed under a contract
// alias.
package sample

import "fmt"

// Demo implements the "demo" identifier from spec.md §8 scenario 1.
type Demo struct{}

// Add greets name and echoes age back in the message, matching the
// "demo.add(name, age)" dispatch used in the basic-dispatch scenario.
func (d *Demo) Add(name string, age int) string {
	return fmt.Sprintf("%s is %d years old", name, age)
}

// Session implements the "login" identifier from spec.md §8 scenario 2,
// where the host's service.login.contract maps the externally-visible
// name "out" to this type's Logout method.
type Session struct{}

// Logout invalidates token. Bound to the wire method name "out" via the
// identifier's contract map; it also resolves under its own name ("logout"
// or "Logout").
func (s *Session) Logout(token string) bool {
	return token != ""
}
