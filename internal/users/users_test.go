package users

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{DisplayName: "alice"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Status != StatusActive {
		t.Errorf("status = %q, want %q", u.Status, StatusActive)
	}

	got, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "alice" {
		t.Errorf("displayName = %q, want alice", got.DisplayName)
	}
}

func TestRegisterBlankName(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.Register(context.Background(), RegisterRequest{DisplayName: "   "})
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
}

func TestRequireActive(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterRequest{DisplayName: "bob"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.RequireActive(ctx, u.ID); err != nil {
		t.Fatalf("RequireActive: %v", err)
	}

	if _, err := svc.RequireActive(ctx, "usr_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	suspended := &User{ID: "usr_s", DisplayName: "mallory", Status: StatusSuspended}
	if err := store.Create(ctx, suspended); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.RequireActive(ctx, suspended.ID); !errors.Is(err, ErrSuspended) {
		t.Errorf("err = %v, want ErrSuspended", err)
	}
}
