package ports_test

import (
	"testing"

	"github.com/youthvoice/portal/internal/mocks"
	mockauth "github.com/youthvoice/portal/internal/mocks/auth"
	"github.com/youthvoice/portal/internal/ports"
)

// This test only verifies that our doubles conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.IdentityPlatform = (*mockauth.MockPlatform)(nil)
	var _ ports.CredentialStore = (*mockauth.MemoryCredentialStore)(nil)
	var _ ports.ProfileRepository = (*mockauth.StubProfileRepository)(nil)
	var _ ports.AuditLogger = (*mockauth.MemoryAuditLogger)(nil)
	var _ ports.ProfileRepository = (*mocks.MockProfileRepository)(nil)
	var _ ports.AuditLogger = (*mocks.MockAuditLogger)(nil)
}
