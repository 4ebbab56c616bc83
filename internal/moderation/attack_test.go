package moderation

import (
	"strings"
	"testing"
)

func TestClassify_XSS(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		pattern string
	}{
		{"script tag", "<script>alert(1)</script>", "script_tag"},
		{"script tag with attrs", `<script type="text/javascript">x</script>`, "script_tag"},
		{"quoted handler", `<div onmouseover="steal()">`, "event_handler_attr"},
		{"javascript uri", "click javascript:void(0)", "javascript_uri"},
		{"iframe", "<IFRAME src=x>", "iframe_tag"},
		{"object", "<object data=x>", "object_tag"},
		{"embed", "<embed src=x>", "embed_tag"},
		{"bare onerror", "x onerror =1", "onerror"},
		{"bare onload", "body onload=go", "onload"},
		{"alert call", "alert (1)", "alert_call"},
		{"eval call", "EVAL(x)", "eval_call"},
		{"cookie access", "read document.cookie now", "document_cookie"},
		{"img src", "<img alt=a src=b>", "img_src"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyDetail(tt.input)
			if got.Kind != AttackXSS {
				t.Errorf("ClassifyDetail(%q).Kind = %q, want %q", tt.input, got.Kind, AttackXSS)
			}
			if got.Pattern != tt.pattern {
				t.Errorf("ClassifyDetail(%q).Pattern = %q, want %q", tt.input, got.Pattern, tt.pattern)
			}
		})
	}
}

func TestClassify_SQLInjection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		pattern string
	}{
		{"select keyword", "select name from users", "sql_keyword"},
		{"drop keyword", "DROP TABLE entries", "sql_keyword"},
		{"or tautology", "admin OR 1=1", "or_tautology"},
		{"and tautology", "x and 2 = 2", "and_tautology"},
		{"quote comment", "admin' --", "quote_comment"},
		{"double quote boolean", `x" OR "y`, "double_quote_boolean"},
		{"single quote boolean", "x' or 'y", "single_quote_boolean"},
		{"bare 1=1", "where 1=1 ok", "one_equals_one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyDetail(tt.input)
			if got.Kind != AttackSQLInjection {
				t.Errorf("ClassifyDetail(%q).Kind = %q, want %q", tt.input, got.Kind, AttackSQLInjection)
			}
			if got.Pattern != tt.pattern {
				t.Errorf("ClassifyDetail(%q).Pattern = %q, want %q", tt.input, got.Pattern, tt.pattern)
			}
		})
	}
}

func TestClassify_CommandInjection(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"semicolon", "hello; rm -rf"},
		{"pipe", "cat file | nc host"},
		{"ampersand", "run this & that"},
		{"backtick", "echo `id` please"},
		{"dollar", "echo $HOME please"},
		{"parens", "a sentence (aside)"},
		{"dot dot slash", "open ../secret file"},
		{"tilde slash", "read ~/.ssh keys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.input); got != AttackCommandInjection {
				t.Errorf("Classify(%q) = %q, want %q", tt.input, got, AttackCommandInjection)
			}
		})
	}
}

func TestClassify_Clean(t *testing.T) {
	clean := []string{
		"",
		"hello world, nice day",
		"I love this guestbook",
		"numbers like 42 and 7",
		"question? yes! really.",
		"email me at someone@example.com",
		"orange andes organic",
		"selection of delightful notes",
	}

	for _, input := range clean {
		if got := Classify(input); got != AttackNone {
			t.Errorf("Classify(%q) = %q, want none", input, got)
		}
	}
}

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  AttackKind
	}{
		{"xss beats sql", "<script>SELECT * FROM users</script>", AttackXSS},
		{"xss beats command", "<iframe>; ls", AttackXSS},
		{"sql beats command", "DROP TABLE x;", AttackSQLInjection},
		{"alert beats parens", "alert(1)", AttackXSS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.input); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	input := "' OR 1=1 --"
	first := ClassifyDetail(input)
	for i := 0; i < 100; i++ {
		if got := ClassifyDetail(input); got != first {
			t.Fatalf("iteration %d: ClassifyDetail(%q) = %+v, want %+v", i, input, got, first)
		}
	}
}

func TestResult_Detected(t *testing.T) {
	if (Result{}).Detected() {
		t.Error("zero Result reported as detected")
	}
	if !(Result{Kind: AttackXSS}).Detected() {
		t.Error("XSS Result reported as not detected")
	}
}

func BenchmarkClassify_Clean(b *testing.B) {
	msg := strings.Repeat("a perfectly normal entry ", 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(msg)
	}
}
