// Package authztest provides an in-memory authorization service for tests.
package authztest

import (
	"testing"

	"github.com/smallbiznis/fakturo/internal/authorization"
	"go.uber.org/zap"
)

func New(t testing.TB) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("casbin enforcer: %v", err)
	}
	return authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
}
