package version

import "testing"

func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	prevV, prevC, prevD := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevV, prevC, prevD })
}

func TestDefaults(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must have defaults, got %q %q %q", v, c, d)
	}
	if GetVersion() != v {
		t.Fatal("GetVersion must agree with Info")
	}
}

func TestLdflagsValues(t *testing.T) {
	withBuild(t, "1.4.0", "3f2a9c1", "2026-05-01T10:00:00Z")

	if got := String(); got != "version=1.4.0 commit=3f2a9c1 date=2026-05-01T10:00:00Z" {
		t.Fatalf("unexpected String(): %q", got)
	}
	if got := UserAgent(); got != "cart-service/1.4.0" {
		t.Fatalf("unexpected UserAgent(): %q", got)
	}
}
