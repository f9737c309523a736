package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"cellsync/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	loginIndex map[string]string
	mailIndex  map[string]string
	nextID     int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		loginIndex: make(map[string]string),
		mailIndex:  make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByLogin(ctx context.Context, login string) (store.User, error) {
	if userID, ok := m.loginIndex[login]; ok {
		return m.users[userID], nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByMail(ctx context.Context, mail string) (store.User, error) {
	if userID, ok := m.mailIndex[mail]; ok {
		return m.users[userID], nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	m.nextID++
	user.ID = fmt.Sprintf("u%d", m.nextID)
	m.users[user.ID] = user
	m.loginIndex[user.Login] = user.ID
	m.mailIndex[user.Mail] = user.ID
	return user, nil
}

func (m *mockUserStore) UpdateUser(ctx context.Context, userID string, patch store.UserPatch) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.Login != nil {
		delete(m.loginIndex, user.Login)
		user.Login = *patch.Login
		m.loginIndex[user.Login] = userID
	}
	if patch.Mail != nil {
		delete(m.mailIndex, user.Mail)
		user.Mail = *patch.Mail
		m.mailIndex[user.Mail] = userID
	}
	if patch.Firstname != nil {
		user.Firstname = *patch.Firstname
	}
	if patch.Lastname != nil {
		user.Lastname = *patch.Lastname
	}
	if patch.PasswordHash != nil {
		user.PasswordHash = *patch.PasswordHash
	}
	m.users[userID] = user
	return nil
}

func newTestService() (*Service, *mockUserStore) {
	mockStore := newMockUserStore()
	return NewService(mockStore).WithCost(bcrypt.MinCost), mockStore
}

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Firstname:       "Avery",
		Lastname:        "Stone",
		Mail:            "avery@example.com",
		Login:           "avery",
		Password:        "password123",
		ConfirmPassword: "password123",
	}
}

func strPtr(value string) *string { return &value }

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	t.Run("successful registration", func(t *testing.T) {
		user, err := svc.Register(ctx, validRegistration())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == "" {
			t.Error("expected ID to be set")
		}
		if user.PasswordHash == "password123" || user.PasswordHash == "" {
			t.Error("expected password to be hashed")
		}
	})

	t.Run("duplicate login", func(t *testing.T) {
		req := validRegistration()
		req.Mail = "other@example.com"
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrLoginTaken) {
			t.Fatalf("expected ErrLoginTaken, got %v", err)
		}
	})

	t.Run("duplicate mail", func(t *testing.T) {
		req := validRegistration()
		req.Login = "avery2"
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrMailTaken) {
			t.Fatalf("expected ErrMailTaken, got %v", err)
		}
	})

	t.Run("password mismatch", func(t *testing.T) {
		req := validRegistration()
		req.Login, req.Mail = "blake", "blake@example.com"
		req.ConfirmPassword = "password124"
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("expected ErrPasswordMismatch, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		req := validRegistration()
		req.Login, req.Mail = "blake", "blake@example.com"
		req.Password, req.ConfirmPassword = "short", "short"
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrPasswordTooShort) {
			t.Fatalf("expected ErrPasswordTooShort, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.Register(ctx, RegisterRequest{}); !errors.Is(err, ErrMissingFields) {
			t.Fatalf("expected ErrMissingFields, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "avery", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Mail != "avery@example.com" {
			t.Errorf("expected mail avery@example.com, got %s", user.Mail)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "avery", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	avery, err := svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("register avery: %v", err)
	}
	other := validRegistration()
	other.Login, other.Mail = "blake", "blake@example.com"
	if _, err := svc.Register(ctx, other); err != nil {
		t.Fatalf("register blake: %v", err)
	}

	t.Run("rename keeps own login free", func(t *testing.T) {
		updated, err := svc.UpdateProfile(ctx, avery.ID, ProfileUpdate{
			Login:     strPtr("avery"),
			Firstname: strPtr("Ava"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Firstname != "Ava" {
			t.Fatalf("expected firstname Ava, got %q", updated.Firstname)
		}
	})

	t.Run("login owned by someone else", func(t *testing.T) {
		if _, err := svc.UpdateProfile(ctx, avery.ID, ProfileUpdate{Login: strPtr("blake")}); !errors.Is(err, ErrLoginTaken) {
			t.Fatalf("expected ErrLoginTaken, got %v", err)
		}
	})

	t.Run("password change requires confirmation", func(t *testing.T) {
		if _, err := svc.UpdateProfile(ctx, avery.ID, ProfileUpdate{Password: strPtr("newpassword123")}); !errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("expected ErrPasswordMismatch, got %v", err)
		}
	})

	t.Run("password change", func(t *testing.T) {
		_, err := svc.UpdateProfile(ctx, avery.ID, ProfileUpdate{
			Password:        strPtr("newpassword123"),
			ConfirmPassword: strPtr("newpassword123"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.SignIn(ctx, "avery", "password123"); err == nil {
			t.Error("expected old password to not work")
		}
		if _, err := svc.SignIn(ctx, "avery", "newpassword123"); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("blank field rejected", func(t *testing.T) {
		if _, err := svc.UpdateProfile(ctx, avery.ID, ProfileUpdate{Lastname: strPtr("  ")}); !errors.Is(err, ErrMissingFields) {
			t.Fatalf("expected ErrMissingFields, got %v", err)
		}
	})
}
