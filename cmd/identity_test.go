package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

type finderFunc func(ctx context.Context, name string) ([]database.StoredIdentity, error)

func (f finderFunc) FindIdentities(ctx context.Context, name string) ([]database.StoredIdentity, error) {
	return f(ctx, name)
}

func TestResolveIdentity(t *testing.T) {
	byName := map[string][]database.StoredIdentity{
		"jana novakova": {{IdentityID: "S1"}},
		"petr svoboda":  {{IdentityID: "S2"}, {IdentityID: "S7"}},
	}
	finder := finderFunc(func(ctx context.Context, name string) ([]database.StoredIdentity, error) {
		if name == "broken" {
			return nil, errors.New("connection refused")
		}
		return byName[name], nil
	})

	tests := []struct {
		name    string
		args    []string
		flag    string
		want    string
		wantErr string
	}{
		{"argument", []string{"S9"}, "", "S9", ""},
		{"unique name", nil, "jana novakova", "S1", ""},
		{"ambiguous name", nil, "petr svoboda", "", "S2, S7"},
		{"unknown name", nil, "eva", "", "no registered identity"},
		{"both given", []string{"S1"}, "jana novakova", "", "not both"},
		{"neither given", nil, "", "", "is required"},
		{"store error", nil, "broken", "", "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveIdentity(context.Background(), finder, tt.args, tt.flag)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
