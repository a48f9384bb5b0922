package metrics

import (
	"strings"
	"testing"
)

func TestWriteText(t *testing.T) {
	BuildInc("ok")
	ExtensionInc("WITHIN")
	WithinFallbackInc()
	PanicInc("test")

	var b strings.Builder
	if err := WriteText(&b, "imapsearch_"); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	s := b.String()
	for _, exp := range []string{
		"# TYPE imapsearch_build_total counter",
		`imapsearch_build_total{result="ok"}`,
		`imapsearch_extension_total{extension="WITHIN"}`,
		"imapsearch_within_fallback_total",
		`imapsearch_panic_total{pkg="test"}`,
	} {
		if !strings.Contains(s, exp) {
			t.Fatalf("missing %q in metrics:\n%s", exp, s)
		}
	}
	if strings.Contains(s, "go_goroutines") {
		t.Fatalf("metrics not filtered by prefix:\n%s", s)
	}
}
