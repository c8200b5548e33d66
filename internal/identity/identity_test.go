package identity

import (
	"context"
	"errors"
	"testing"
)

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver(map[string]string{"token-amira": "owner_amira"})
	ctx := context.Background()

	owner, err := resolver.Resolve(ctx, "token-amira")
	if err != nil || owner != "owner_amira" {
		t.Fatalf("resolve = %q, %v; want owner_amira", owner, err)
	}

	if _, err := resolver.Resolve(ctx, "token-unknown"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unknown token = %v, want ErrUnauthenticated", err)
	}
}

func TestRevokeAnnouncesSignOut(t *testing.T) {
	resolver := NewStaticResolver(map[string]string{"token-amira": "owner_amira"})

	resolver.RevokeToken("token-amira")

	select {
	case change := <-resolver.Changes():
		if change.OwnerID != "" {
			t.Fatalf("revoke change = %+v, want empty owner", change)
		}
	default:
		t.Fatal("expected a change notification after revoke")
	}

	if _, err := resolver.Resolve(context.Background(), "token-amira"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked token = %v, want ErrUnauthenticated", err)
	}
}

func TestSetTokenAnnouncesNewOwner(t *testing.T) {
	resolver := NewStaticResolver(nil)

	resolver.SetToken("token-ben", "owner_ben")

	select {
	case change := <-resolver.Changes():
		if change.OwnerID != "owner_ben" {
			t.Fatalf("set change = %+v, want owner_ben", change)
		}
	default:
		t.Fatal("expected a change notification after set")
	}
}
