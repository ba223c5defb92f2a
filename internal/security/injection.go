package security

import (
	"regexp"
)

// Category groups injection patterns
type Category string

const (
	CategorySQL           Category = "sql_injection"
	CategoryXSS           Category = "xss"
	CategoryCommand       Category = "command_injection"
	CategoryPathTraversal Category = "path_traversal"
	CategoryPrompt        Category = "prompt_injection"
	CategoryLDAP          Category = "ldap_injection"
	CategoryNoSQL         Category = "nosql_injection"
)

// Severity weights a finding
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalText renders the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Finding is one pattern match in screened input
type Finding struct {
	Category Category `json:"category"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Match    string   `json:"match"`
}

type injectionRule struct {
	name     string
	category Category
	severity Severity
	pattern  *regexp.Regexp
}

// Patterns stay narrow: chat text routinely mentions SQL keywords, shell
// commands and file paths in ordinary questions.
var defaultRules = []injectionRule{
	{"union_select", CategorySQL, SeverityMedium, regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"tautology", CategorySQL, SeverityMedium, regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\w+'?\s*=\s*'?\w+`)},
	{"stacked_ddl", CategorySQL, SeverityCritical, regexp.MustCompile(`(?i);\s*(drop|truncate|alter)\s+(table|database|schema)\b`)},
	{"comment_terminator", CategorySQL, SeverityMedium, regexp.MustCompile(`'\s*(--|#|/\*)`)},

	{"script_tag", CategoryXSS, SeverityHigh, regexp.MustCompile(`(?i)<\s*script\b`)},
	{"javascript_url", CategoryXSS, SeverityHigh, regexp.MustCompile(`(?i)javascript\s*:`)},
	{"event_handler", CategoryXSS, SeverityMedium, regexp.MustCompile(`(?i)<[^>]+\bon(error|load|click|mouseover|focus|submit)\s*=`)},
	{"iframe_tag", CategoryXSS, SeverityMedium, regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`)},

	{"chained_command", CategoryCommand, SeverityHigh, regexp.MustCompile(`(?i)(;|&&|\|\|)\s*(rm\s+-[rf]+|curl\s+\S+|wget\s+\S+|nc\s+-|bash\s+-c|chmod\s+[0-7+])`)},
	{"command_substitution", CategoryCommand, SeverityMedium, regexp.MustCompile(`\$\(\s*(rm|curl|wget|cat|bash|sh|nc)\b`)},
	{"pipe_to_shell", CategoryCommand, SeverityMedium, regexp.MustCompile(`(?i)\|\s*(ba)?sh\b`)},

	{"dot_dot_slash", CategoryPathTraversal, SeverityMedium, regexp.MustCompile(`(\.\./){2,}|(\.\.\\){2,}`)},
	{"encoded_traversal", CategoryPathTraversal, SeverityHigh, regexp.MustCompile(`(?i)(%2e%2e(%2f|%5c|/))|(\.\.%2f)`)},
	{"sensitive_file", CategoryPathTraversal, SeverityMedium, regexp.MustCompile(`(?i)/etc/(passwd|shadow)\b`)},

	{"ignore_instructions", CategoryPrompt, SeverityHigh, regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier|your)\s+(instructions|prompts|rules|directions)`)},
	{"reveal_prompt", CategoryPrompt, SeverityMedium, regexp.MustCompile(`(?i)\b(reveal|print|show|repeat)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions|initial\s+instructions)`)},
	{"role_override", CategoryPrompt, SeverityMedium, regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|unrestricted)\s*(mode)?`)},
	{"fake_system_turn", CategoryPrompt, SeverityMedium, regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:\s*`)},

	{"ldap_filter", CategoryLDAP, SeverityMedium, regexp.MustCompile(`\*\)\s*\(\s*[|&!]|\)\s*\(\s*\|\s*\(`)},
	{"mongo_operator", CategoryNoSQL, SeverityMedium, regexp.MustCompile(`["']?\$(ne|gt|gte|lt|lte|where|regex|or|and|nin|exists)["']?\s*:`)},
}

// InjectionDetector screens text for injection payloads
type InjectionDetector struct {
	rules []injectionRule
}

// NewInjectionDetector creates a detector with the built-in rule set
func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{rules: defaultRules}
}

// Detect returns every rule that matches s
func (d *InjectionDetector) Detect(s string) []Finding {
	var findings []Finding
	for _, rule := range d.rules {
		if match := rule.pattern.FindString(s); match != "" {
			findings = append(findings, Finding{
				Category: rule.category,
				Rule:     rule.name,
				Severity: rule.severity,
				Match:    truncate(match, 64),
			})
		}
	}
	return findings
}

// IsSuspicious reports whether any rule matches s
func (d *InjectionDetector) IsSuspicious(s string) bool {
	for _, rule := range d.rules {
		if rule.pattern.MatchString(s) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
