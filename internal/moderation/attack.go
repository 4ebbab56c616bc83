package moderation

import "regexp"

// AttackKind labels the family of a detected attack. The zero value means
// no attack was found.
type AttackKind string

const (
	AttackNone             AttackKind = ""
	AttackXSS              AttackKind = "XSS"
	AttackSQLInjection     AttackKind = "SQL Injection"
	AttackCommandInjection AttackKind = "Command Injection"
)

// attackCheck pairs a detection function with the name reported in logs.
type attackCheck struct {
	name  string
	match func(string) bool
}

// family is an ordered set of independent checks; any single match
// classifies the content as kind.
type family struct {
	kind   AttackKind
	checks []attackCheck
}

// pattern builds an attackCheck from a regular expression. Expressions are
// compiled once at package init and are safe for concurrent use.
func pattern(name, expr string) attackCheck {
	re := regexp.MustCompile(expr)
	return attackCheck{name: name, match: re.MatchString}
}

// families is evaluated in order and the first family with a matching check
// wins, so a payload carrying both a script tag and SQL keywords is always
// reported as XSS.
var families = []family{
	{kind: AttackXSS, checks: []attackCheck{
		pattern("script_tag", `(?i)<script[^>]*>.*?</script>`),
		pattern("event_handler_attr", `(?i)on\w+\s*=\s*["'][^"']*["']`),
		pattern("javascript_uri", `(?i)javascript:`),
		pattern("iframe_tag", `(?i)<iframe`),
		pattern("object_tag", `(?i)<object`),
		pattern("embed_tag", `(?i)<embed`),
		pattern("onerror", `(?i)onerror\s*=`),
		pattern("onload", `(?i)onload\s*=`),
		pattern("onclick", `(?i)onclick\s*=`),
		pattern("alert_call", `(?i)alert\s*\(`),
		pattern("eval_call", `(?i)eval\s*\(`),
		pattern("document_cookie", `(?i)document\.cookie`),
		pattern("img_src", `(?i)<img[^>]+src[^>]*>`),
	}},
	{kind: AttackSQLInjection, checks: []attackCheck{
		pattern("sql_keyword", `(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION)\b`),
		pattern("or_tautology", `(?i)\bOR\b\s+\d+\s*=\s*\d+`),
		pattern("and_tautology", `(?i)\bAND\b\s+\d+\s*=\s*\d+`),
		pattern("quote_comment", `'.*--`),
		pattern("quote_semicolon_comment", `';.*--`),
		pattern("double_quote_boolean", `(?i)"\s*(OR|AND)\s*"`),
		pattern("single_quote_boolean", `(?i)'\s*(OR|AND)\s*'`),
		pattern("union_select", `(?i)UNION\s+SELECT`),
		pattern("one_equals_one", `1=1`),
		pattern("quoted_one_equals_one", `(?i)1'\s*OR\s*'1'\s*=\s*'1`),
	}},
	{kind: AttackCommandInjection, checks: []attackCheck{
		pattern("shell_metachar", "[;&|`$()]"),
		pattern("path_traversal", `\.\./`),
		pattern("home_traversal", `~/`),
	}},
}

// Result describes a classification. Pattern is the name of the first
// check that matched and is empty when Kind is AttackNone.
type Result struct {
	Kind    AttackKind
	Pattern string
}

// Detected reports whether the content matched any attack family.
func (r Result) Detected() bool {
	return r.Kind != AttackNone
}

// Classify returns the attack family content belongs to, or AttackNone.
// It is deterministic, has no side effects and may be called concurrently.
func Classify(content string) AttackKind {
	return ClassifyDetail(content).Kind
}

// ClassifyDetail is Classify plus the name of the matching check, for
// callers that want to log what triggered the classification.
func ClassifyDetail(content string) Result {
	if content == "" {
		return Result{}
	}
	for _, f := range families {
		for _, c := range f.checks {
			if c.match(content) {
				return Result{Kind: f.kind, Pattern: c.name}
			}
		}
	}
	return Result{}
}
