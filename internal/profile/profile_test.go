package profile

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rlink/rlink/internal/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv(crypto.EnvKey, "")
	crypto.ResetKey()
	t.Cleanup(crypto.ResetKey)

	s, err := Open(filepath.Join(t.TempDir(), "nested", "profiles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddDefaultsAndValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.Add(ctx, Profile{Name: " nas ", Host: "10.0.0.5", Username: "admin", Password: "pw", Tags: []string{"home", "", "home", "lab"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("id/created_at not set: %+v", p)
	}
	if p.Name != "nas" || p.Port != DefaultPort || p.AuthMethod != AuthPassword {
		t.Fatalf("defaults: %+v", p)
	}
	if strings.Join(p.Tags, ",") != "home,lab" {
		t.Fatalf("tags: %v", p.Tags)
	}

	for _, bad := range []Profile{
		{Host: "h", Username: "u"},
		{Name: "n", Username: "u"},
		{Name: "n", Host: "h"},
		{Name: "n", Host: "h", Username: "u", Port: 70000},
		{Name: "n", Host: "h", Username: "u", AuthMethod: "kerberos"},
	} {
		if _, err := s.Add(ctx, bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("Add(%+v): got %v, want ErrInvalid", bad, err)
		}
	}

	if _, err := s.Add(ctx, Profile{Name: "nas", Host: "other", Username: "root"}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate name: got %v", err)
	}
}

func TestKeyOnlyProfileUsesPrivateKey(t *testing.T) {
	s := openTestStore(t)
	p, err := s.Add(context.Background(), Profile{Name: "k", Host: "h", Username: "u", PrivateKey: "-----BEGIN-----"})
	if err != nil {
		t.Fatal(err)
	}
	if p.AuthMethod != AuthPrivateKey {
		t.Fatalf("auth method: got %q", p.AuthMethod)
	}
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.Add(ctx, Profile{Name: "box", Host: "h", Username: "u", Password: "hunter2", PrivateKey: "KEY", Passphrase: "open sesame"})
	if err != nil {
		t.Fatal(err)
	}

	var password, key, passphrase string
	row := s.db.QueryRowContext(ctx, `SELECT password, private_key, passphrase FROM profiles WHERE id = ?`, p.ID)
	if err := row.Scan(&password, &key, &passphrase); err != nil {
		t.Fatal(err)
	}
	for _, raw := range []string{password, key, passphrase} {
		if !crypto.IsSealed(raw) {
			t.Fatalf("stored value %q is not sealed", raw)
		}
	}
	if strings.Contains(password, "hunter2") {
		t.Fatal("plaintext password in database")
	}

	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Password != "hunter2" || got.PrivateKey != "KEY" || got.Passphrase != "open sesame" {
		t.Fatalf("secrets not restored: %+v", got)
	}
}

func TestEmptySecretStaysEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, err := s.Add(ctx, Profile{Name: "nopw", Host: "h", Username: "u"})
	if err != nil {
		t.Fatal(err)
	}
	var password string
	if err := s.db.QueryRowContext(ctx, `SELECT password FROM profiles WHERE id = ?`, p.ID).Scan(&password); err != nil {
		t.Fatal(err)
	}
	if password != "" {
		t.Fatalf("stored %q for empty password", password)
	}
}

func TestGetByIDOrName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, _ := s.Add(ctx, Profile{Name: "web", Host: "h", Username: "u"})

	for _, ref := range []string{p.ID, "web", " web "} {
		got, err := s.Get(ctx, ref)
		if err != nil || got.ID != p.ID {
			t.Errorf("Get(%q): %+v, %v", ref, got, err)
		}
	}
	if _, err := s.Get(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("missing: got %v", err)
	}
	if _, err := s.Get(ctx, ""); !IsNotFound(err) {
		t.Fatalf("empty ref: got %v", err)
	}
}

func TestListOrdersByGroupThenName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, p := range []Profile{
		{Name: "zeta", Group: "", Host: "h", Username: "u"},
		{Name: "beta", Group: "prod", Host: "h", Username: "u"},
		{Name: "alpha", Group: "prod", Host: "h", Username: "u"},
		{Name: "gamma", Group: "Lab", Host: "h", Username: "u"},
		{Name: "alpha2", Group: "", Host: "h", Username: "u"},
	} {
		if _, err := s.Add(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range list {
		names = append(names, p.GroupLabel()+"/"+p.Name)
	}
	want := "Lab/gamma prod/alpha prod/beta Ungrouped/alpha2 Ungrouped/zeta"
	if got := strings.Join(names, " "); got != want {
		t.Fatalf("order:\n got %s\nwant %s", got, want)
	}

	groups := Grouped(list)
	if len(groups) != 3 || groups[0].Label != "Lab" || groups[2].Label != UngroupedLabel || len(groups[1].Profiles) != 2 {
		t.Fatalf("groups: %+v", groups)
	}
}

func TestUpdateKeepsTimestamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, _ := s.Add(ctx, Profile{Name: "a", Host: "h", Username: "u", Password: "one"})
	if err := s.TouchConnected(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, Profile{Name: "b", Host: "h", Username: "u"}); err != nil {
		t.Fatal(err)
	}

	p.Host = "h2"
	p.Password = "two"
	updated, err := s.Update(ctx, p)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.LastConnected == nil {
		t.Fatal("last_connected lost on update")
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Host != "h2" || got.Password != "two" || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("after update: %+v", got)
	}

	p.Name = "b"
	if _, err := s.Update(ctx, p); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("rename onto existing: got %v", err)
	}
	if _, err := s.Update(ctx, Profile{ID: "missing", Name: "x", Host: "h", Username: "u"}); !IsNotFound(err) {
		t.Fatalf("update missing: got %v", err)
	}
}

func TestCopy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src, _ := s.Add(ctx, Profile{Name: "db", Host: "h", Port: 2222, Username: "u", Password: "pw", Group: "prod", Tags: []string{"sql"}})
	if err := s.TouchConnected(ctx, src.ID); err != nil {
		t.Fatal(err)
	}

	dup, err := s.Copy(ctx, "db")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if dup.ID == src.ID || dup.Name != "db (copy)" || dup.LastConnected != nil {
		t.Fatalf("copy: %+v", dup)
	}
	if dup.Host != src.Host || dup.Port != 2222 || dup.Password != "pw" || dup.Group != "prod" || dup.Tags[0] != "sql" {
		t.Fatalf("copy lost fields: %+v", dup)
	}

	again, err := s.Copy(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "db (copy) 2" {
		t.Fatalf("second copy name: %q", again.Name)
	}
}

func TestDeleteAndTouch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	p, _ := s.Add(ctx, Profile{Name: "gone", Host: "h", Username: "u"})
	if err := s.TouchConnected(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.LastConnected == nil || !got.LastConnected.Equal(fixed) {
		t.Fatalf("last_connected: %v", got.LastConnected)
	}

	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID); !IsNotFound(err) {
		t.Fatalf("after delete: %v", err)
	}
	if err := s.Delete(ctx, "gone"); !IsNotFound(err) {
		t.Fatalf("delete twice: %v", err)
	}
	if err := s.TouchConnected(ctx, p.ID); !IsNotFound(err) {
		t.Fatalf("touch deleted: %v", err)
	}
}

func TestReopenKeepsProfiles(t *testing.T) {
	t.Setenv(crypto.EnvKey, "")
	crypto.ResetKey()
	t.Cleanup(crypto.ResetKey)
	path := filepath.Join(t.TempDir(), "profiles.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(context.Background(), Profile{Name: "keep", Host: "h", Username: "u", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), "keep")
	if err != nil || got.Password != "pw" {
		t.Fatalf("after reopen: %+v, %v", got, err)
	}
}

func TestTarget(t *testing.T) {
	p := Profile{Username: "root", Host: "nas", Port: 2222}
	if got := p.Target(); got != "root@nas:2222" {
		t.Fatalf("Target: %q", got)
	}
}
