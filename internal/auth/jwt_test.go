package auth

import (
	"testing"
	"time"

	"github.com/campusride/bustrack/internal/errs"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := NewAuthenticator("0123456789abcdef", time.Hour)

	tok, err := a.Issue(Identity{UserID: "driver-1", Role: RoleDriver})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := a.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "driver-1" || id.Role != RoleDriver {
		t.Errorf("Verify() = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	a := NewAuthenticator("0123456789abcdef", time.Hour)
	other := NewAuthenticator("fedcba9876543210", time.Hour)
	foreign, _ := other.Issue(Identity{UserID: "u", Role: RoleStudent})

	expiring := NewAuthenticator("0123456789abcdef", time.Minute)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiring.Issue(Identity{UserID: "u", Role: RoleStudent})

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"empty", "", "No token provided"},
		{"garbage", "not.a.jwt", "Invalid token"},
		{"wrong secret", foreign, "Invalid token"},
		{"expired", expired, "Token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(tt.token)
			if !errs.Is(err, errs.Unauthorized) {
				t.Fatalf("Verify() kind = %v, want unauthorized", errs.KindOf(err))
			}
			if got := errs.Message(err); got != tt.msg {
				t.Errorf("message = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestIssueValidation(t *testing.T) {
	a := NewAuthenticator("0123456789abcdef", 0)
	if _, err := a.Issue(Identity{Role: RoleDriver}); !errs.Is(err, errs.Validation) {
		t.Errorf("missing user id: %v", err)
	}
	if _, err := a.Issue(Identity{UserID: "x", Role: "pilot"}); !errs.Is(err, errs.Validation) {
		t.Errorf("unknown role: %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	driver := Identity{UserID: "d", Role: RoleDriver}
	if err := RequireRole(driver, RoleDriver); err != nil {
		t.Errorf("driver rejected: %v", err)
	}
	student := Identity{UserID: "s", Role: RoleStudent}
	if err := RequireRole(student, RoleDriver); !errs.Is(err, errs.Forbidden) {
		t.Errorf("student accepted as driver: %v", err)
	}
}
