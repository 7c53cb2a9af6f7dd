package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// identityFinder resolves display names to registered identities.
type identityFinder interface {
	FindIdentities(ctx context.Context, name string) ([]database.StoredIdentity, error)
}

// resolveIdentity returns the identity id given either as the only argument
// or through --name. A name must match exactly one registered identity.
func resolveIdentity(ctx context.Context, finder identityFinder, args []string, name string) (string, error) {
	switch {
	case len(args) > 0 && name != "":
		return "", errors.New("give either an identity id or --name, not both")
	case len(args) > 0:
		return args[0], nil
	case name == "":
		return "", errors.New("an identity id or --name is required")
	}

	matches, err := finder.FindIdentities(ctx, name)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no registered identity named %q", name)
	case 1:
		return matches[0].IdentityID, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.IdentityID
	}
	return "", fmt.Errorf("name %q matches %d identities (%s), use the identity id",
		name, len(matches), strings.Join(ids, ", "))
}
