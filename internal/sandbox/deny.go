package sandbox

import (
	"regexp"
	"strings"
)

type denyPattern struct {
	name string
	re   *regexp.Regexp
}

// instructionDenyList describes overtly harmful task intents. It is a
// best-effort heuristic and is matched against the task text only.
var instructionDenyList = []denyPattern{
	{"malware download", regexp.MustCompile(`(?i)\b(download|install|run|execute|deploy)\b.{0,40}\b(malware|ransomware|keylogger|trojan|virus|backdoor|rootkit|botnet|cryptominer|spyware)\b`)},
	{"data theft", regexp.MustCompile(`(?i)\b(steal|exfiltrate|exfil|smuggle|leak)\b.{0,40}\b(data|files?|database|documents?|records|emails?|cookies|history)\b`)},
	{"credential harvesting", regexp.MustCompile(`(?i)\b(steal|harvest|collect|capture|extract|dump|phish|scrape)\b.{0,40}\b(passwords?|credentials?|logins?|api[ _-]?keys?|tokens?|credit cards?|private keys?|seed phrases?)\b`)},
	{"destructive filesystem operation", regexp.MustCompile(`(?i)\brm\s+-[a-z]*[rf][a-z]*\s+(/|~|\*|\$HOME)`)},
	{"destructive filesystem operation", regexp.MustCompile(`(?i)\b(format|wipe|erase|shred)\b.{0,20}\b(disk|drive|hard ?drive|partition|system|computer)\b`)},
	{"destructive filesystem operation", regexp.MustCompile(`(?i)\bdelete\b.{0,20}\b(all|every)\b.{0,20}\bfiles\b`)},
	{"destructive filesystem operation", regexp.MustCompile(`(?i)\b(mkfs\.|dd\s+if=\S+\s+of=/dev/)`)},
	{"destructive filesystem operation", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)}, // fork bomb
	{"remote script execution", regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(sh|bash|zsh)\b`)},
	{"disabling security tooling", regexp.MustCompile(`(?i)\b(disable|turn off|bypass|kill|uninstall|stop)\b.{0,30}\b(antivirus|anti-virus|firewall|defender|edr|endpoint protection|gatekeeper|selinux|apparmor)\b`)},
}

// sqlDenyList is the fixed destructive-SQL family screened in typed text.
var sqlDenyList = []denyPattern{
	{"DROP TABLE", regexp.MustCompile(`(?i)\bDROP\s+TABLE\b[^;]*;`)},
	{"DELETE FROM", regexp.MustCompile(`(?i)\bDELETE\s+FROM\b[^;]*;`)},
	{"UNION SELECT", regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`)},
	{"always-true predicate", regexp.MustCompile(`(?i)\bOR\s+1\s*=\s*1\b`)},
	{"always-true predicate", regexp.MustCompile(`(?i)'\s*OR\s*'1'\s*=\s*'1`)},
}

// ScreenInstruction returns a violation if task matches the instruction
// deny-list. Matching is case-insensitive.
func ScreenInstruction(task string) error {
	text := strings.TrimSpace(task)
	for _, p := range instructionDenyList {
		if p.re.MatchString(text) {
			return deny(RuleInstruction, "task matches denied intent: %s", p.name)
		}
	}
	return nil
}

// screenSQL returns a violation if text contains a destructive SQL pattern.
func screenSQL(text string) *Violation {
	for _, p := range sqlDenyList {
		if p.re.MatchString(text) {
			return deny(RuleDestructiveSQL, "text contains destructive SQL (%s)", p.name)
		}
	}
	return nil
}

// ScreenText returns a violation if text matches one of the sensitive
// patterns or the destructive-SQL family.
func ScreenText(text string, sensitive []*regexp.Regexp) error {
	for _, re := range sensitive {
		if re.MatchString(text) {
			return deny(RuleSensitiveText, "text matches sensitive pattern %q", re.String())
		}
	}
	if v := screenSQL(text); v != nil {
		return v
	}
	return nil
}
