package mikrotik

import (
	"context"
	"fmt"

	"github.com/ventanet/ventabot/internal/models"
)

// MockClient is an in-memory Directory implementation for tests.
type MockClient struct {
	Plans        []models.Plan
	Users        map[string]*User
	UserPlans    map[string][]string // username -> active profiles
	CreatedUsers []CreatedUser
	Calls        []string // method names in invocation order

	FailCreate   bool
	FailActivate bool
	FailAll      bool
}

// CreatedUser records the arguments of a CreateUser call.
type CreatedUser struct {
	Username string
	Password string
	FullName string
	Plan     string
}

// NewMockClient creates an empty mock directory.
func NewMockClient() *MockClient {
	return &MockClient{
		Users:     make(map[string]*User),
		UserPlans: make(map[string][]string),
	}
}

func (m *MockClient) record(call string) { m.Calls = append(m.Calls, call) }

// ListPlans returns the configured plans.
func (m *MockClient) ListPlans(ctx context.Context) ([]models.Plan, error) {
	m.record("ListPlans")
	if m.FailAll {
		return nil, fmt.Errorf("mock: router unreachable")
	}
	return m.Plans, nil
}

// FindUser returns the configured user or nil.
func (m *MockClient) FindUser(ctx context.Context, username string) (*User, error) {
	m.record("FindUser(" + username + ")")
	if m.FailAll {
		return nil, fmt.Errorf("mock: router unreachable")
	}
	return m.Users[username], nil
}

// CreateUser records the creation and registers the user.
func (m *MockClient) CreateUser(ctx context.Context, username, password, fullName, plan string) error {
	m.record("CreateUser(" + username + ")")
	if m.FailAll || m.FailCreate {
		return fmt.Errorf("mock: create user failed")
	}
	m.CreatedUsers = append(m.CreatedUsers, CreatedUser{Username: username, Password: password, FullName: fullName, Plan: plan})
	m.Users[username] = &User{ID: "*" + username, Name: username}
	if plan != "" {
		m.UserPlans[username] = append(m.UserPlans[username], plan)
	}
	return nil
}

// SetUserPlan appends the plan to the user's active profiles.
func (m *MockClient) SetUserPlan(ctx context.Context, username, plan string) error {
	m.record("SetUserPlan(" + username + "," + plan + ")")
	if m.FailAll || m.FailActivate {
		return fmt.Errorf("mock: activate profile failed")
	}
	m.UserPlans[username] = append(m.UserPlans[username], plan)
	return nil
}

// RemoveAllPlans clears the user's active profiles.
func (m *MockClient) RemoveAllPlans(ctx context.Context, username string) error {
	m.record("RemoveAllPlans(" + username + ")")
	if m.FailAll {
		return fmt.Errorf("mock: router unreachable")
	}
	m.UserPlans[username] = nil
	return nil
}

// EnableUser clears the disabled flag.
func (m *MockClient) EnableUser(ctx context.Context, username string) error {
	m.record("EnableUser(" + username + ")")
	if m.FailAll {
		return fmt.Errorf("mock: router unreachable")
	}
	if u, ok := m.Users[username]; ok {
		u.Disabled = "false"
	}
	return nil
}

// ReplaceUserPlan removes all plans then activates the new one, mirroring the
// real client's remove-then-set sequence.
func (m *MockClient) ReplaceUserPlan(ctx context.Context, username, plan string) error {
	m.record("ReplaceUserPlan(" + username + "," + plan + ")")
	if err := m.RemoveAllPlans(ctx, username); err != nil {
		return err
	}
	return m.SetUserPlan(ctx, username, plan)
}
