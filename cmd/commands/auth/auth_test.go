package auth

import (
	"strings"
	"testing"

	"nathanbeddoewebdev/vpsd/cmd/commands/cmdtest"
)

func execAuth(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return cmdtest.Exec(t, NewCommand(), args...)
}

func TestLogin_StoresToken(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, _, err := execAuth(t, "login", "FAKE", "--token", " secret ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Saved token for provider fake") {
		t.Errorf("got:\n%s", stdout)
	}
	if token, err := env.Store.GetToken("fake"); err != nil || token != "secret" {
		t.Errorf("GetToken = %q, %v", token, err)
	}
}

func TestLogin_Errors(t *testing.T) {
	cmdtest.Setup(t)

	if _, _, err := execAuth(t, "login", "proxmox", "--token", "x"); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("expected an unknown provider error, got %v", err)
	}
	// stdin is not a terminal under go test.
	if _, _, err := execAuth(t, "login", "fake"); err == nil || !strings.Contains(err.Error(), "--token is required") {
		t.Errorf("expected --token to be required, got %v", err)
	}
}

func TestLogin_WarnsAboutEnvOverride(t *testing.T) {
	cmdtest.Setup(t)
	t.Setenv("VPSD_FAKE_TOKEN", "from-env")

	_, stderr, err := execAuth(t, "login", "fake", "--token", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "VPSD_FAKE_TOKEN is set") {
		t.Errorf("got:\n%s", stderr)
	}
}

func TestStatusAndLogout(t *testing.T) {
	env := cmdtest.Setup(t)
	env.Store.SetToken("fake", "secret")

	// stdout is not a terminal under go test, so the plain listing is used.
	stdout, _, err := execAuth(t, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "fake: authenticated (keychain)") {
		t.Errorf("got:\n%s", stdout)
	}

	if _, _, err := execAuth(t, "logout", "fake"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	stdout, _, err = execAuth(t, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "fake: not authenticated") {
		t.Errorf("got:\n%s", stdout)
	}
}
