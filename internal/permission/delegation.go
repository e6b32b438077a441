package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vantage-c2/vantage/internal/shared"
)

// EnforceDelegation verifies that a derived credential's requested grant does
// not exceed the issuer's effective grant. An empty request inherits the
// issuer's full set and always passes; a wildcard issuer passes any request.
// The returned error names every offending operation.
func EnforceDelegation(issuer, requested Set) error {
	if requested.IsEmpty() || issuer.IsWildcard() {
		return nil
	}
	if requested.IsWildcard() {
		return fmt.Errorf("%w: cannot delegate the wildcard grant from a restricted issuer", shared.ErrPermissionDenied)
	}

	var denied []string
	for op := range requested.ops {
		if !issuer.Contains(op) {
			denied = append(denied, op)
		}
	}
	if len(denied) == 0 {
		return nil
	}
	sort.Strings(denied)
	return fmt.Errorf("%w: issuer does not hold: %s", shared.ErrPermissionDenied, strings.Join(denied, ", "))
}
