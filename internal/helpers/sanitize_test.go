package helpers

import "testing"

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		`<p>Hello <strong>world</strong><script>alert('x')</script></p>`: "Hello world",
		"  spaced\n\tout   text ":                                         "spaced out text",
		"":                                                                "",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
