// Package mocks provides mock implementations for testing the portal services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockProfileRepository(ctrl)
//	repo.EXPECT().GetProfile(gomock.Any(), "user-1").Return(profile, nil)
package mocks

// Generate mock for ProfileRepository interface from internal/ports package.
// This creates MockProfileRepository with methods: GetProfile, ListRoles
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_repository_mock.go github.com/youthvoice/portal/internal/ports ProfileRepository

// Generate mock for AuditLogger interface from internal/ports package.
// This creates MockAuditLogger with methods: Record
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=audit_logger_mock.go github.com/youthvoice/portal/internal/ports AuditLogger
