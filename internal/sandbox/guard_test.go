package sandbox

import (
	"path/filepath"
	"testing"
)

func TestPathGuard(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home", "tester")
	guard := &PathGuard{
		HomeDir: home,
		Blocked: []string{"~/.ssh", "~/.aws/", "/etc/shadow"},
	}
	blocked := []struct {
		path string
		rule Rule
	}{
		{"~/.ssh/id_ed25519", RuleBlockedPath},
		{"~/.ssh", RuleBlockedPath},
		{filepath.Join(home, ".aws", "credentials"), RuleBlockedPath},
		{"/etc/shadow", RuleBlockedPath},
		{"~/Documents/../.ssh/id_rsa", RuleTraversal},
		{"../../etc/passwd", RuleTraversal},
		{`..\windows`, RuleTraversal},
		{"", RuleBlockedPath},
	}
	for _, b := range blocked {
		err := guard.Check(b.path)
		v, ok := AsViolation(err)
		if !ok {
			t.Errorf("expected blocked: %q", b.path)
			continue
		}
		if v.Rule != b.rule {
			t.Errorf("%q: rule = %s, want %s", b.path, v.Rule, b.rule)
		}
	}
	allowed := []string{
		"~/Documents/report.pdf",
		"~/.sshconfig-notes.txt",
		"/etc/hosts",
		"/etc/shadowfax.txt",
		"~/a..b/file",
	}
	for _, p := range allowed {
		if err := guard.Check(p); err != nil {
			t.Errorf("expected allowed: %q (%v)", p, err)
		}
	}
}

func TestPathGuard_Expand(t *testing.T) {
	guard := &PathGuard{HomeDir: "/home/tester"}
	if got := guard.Expand("~/x/./y"); got != filepath.Join("/home/tester", "x", "y") {
		t.Errorf("Expand = %q", got)
	}
	if got := guard.Expand("~"); got != "/home/tester" {
		t.Errorf("Expand(~) = %q", got)
	}
}
