package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	tokens := NewTokens("test-secret", "virtucalls", time.Hour)

	raw, expiresAt, err := tokens.Issue(model.ProviderUser{
		ID:       "user-1",
		Email:    "alice@example.com",
		Metadata: map[string]any{"name": "Alice"},
	})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt = %v, want future", expiresAt)
	}

	claims, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-1")
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
}

func TestTokens_RejectsWrongSecret(t *testing.T) {
	raw, _, err := NewTokens("secret-a", "virtucalls", time.Hour).Issue(model.ProviderUser{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = NewTokens("secret-b", "virtucalls", time.Hour).Verify(raw)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify error = %v, want ErrInvalidToken", err)
	}
}

func TestTokens_RejectsExpired(t *testing.T) {
	tokens := NewTokens("secret", "virtucalls", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, _, err := tokens.Issue(model.ProviderUser{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	tokens.now = time.Now
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify error = %v, want ErrInvalidToken", err)
	}
}

func TestNormalizeUser(t *testing.T) {
	tests := []struct {
		name          string
		sess          *model.ProviderSession
		wantName      string
		wantSubdomain string
	}{
		{"nil session", nil, "", ""},
		{"with name", sessionFor("u1", "alice@example.com", "Alice"), "Alice", "alice"},
		{"without name", &model.ProviderSession{User: model.ProviderUser{ID: "u2", Email: "bob@example.com"}}, "User", "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeUser(tt.sess)
			if tt.sess == nil {
				if got != nil {
					t.Errorf("NormalizeUser(nil) = %+v, want nil", got)
				}
				return
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Subdomain != tt.wantSubdomain {
				t.Errorf("Subdomain = %q, want %q", got.Subdomain, tt.wantSubdomain)
			}
			if got.IsSubscribed {
				t.Error("IsSubscribed = true, want false")
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("  <script>Eve</script> "); got != "scriptEve/script" {
		t.Errorf("SanitizeName = %q", got)
	}
}
