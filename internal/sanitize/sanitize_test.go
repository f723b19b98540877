package sanitize

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  suspicious dropper  ", "suspicious dropper"},
		{"script block", `note<script>alert(1)</script> end`, "note end"},
		{"script block multiline", "a<SCRIPT type=\"x\">\nsteal()\n</script >b", "ab"},
		{"stray open tag", `hello <script src=x.js>`, "hello"},
		{"unterminated tag", `hello <script`, "hello"},
		{"javascript scheme", `click javascript:run()`, "click run()"},
		{"vbscript scheme", `VBScript :msgbox`, "msgbox"},
		{"event handler", `<img onerror=steal()>`, "<img steal()>"},
		{"handler with spaces", `<a onClick  = "x">`, `<a "x">`},
		{"nested fragments", `<scr<script>ipt>alert(1)</script>`, "<scr"},
		{"word containing on", "condition=ok", "condition=ok"},
		{"handler-like text outside a tag", "onboarding=1 done", "onboarding=1 done"},
		{"several handlers", `<a href=x onclick=a() onmouseover=b()>`, `<a href=x a() b()>`},
		{"multiline tag", "<svg\n  onload=x>", "<svg x>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestText_NeverLeavesScriptTag(t *testing.T) {
	inputs := []string{
		"<script>x</script>",
		"<<script>script>alert(1)<</script>/script>",
		"<scr<script>ipt>",
		"a<ScRiPt>b</sCrIpT>c<script",
		"<script/src=//evil>",
	}
	for _, in := range inputs {
		out := Text(in)
		if strings.Contains(strings.ToLower(out), "<script") {
			t.Errorf("Text(%q) = %q still contains <script", in, out)
		}
	}
}

func TestText_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"ok",
		"<scr<script>ipt>alert(1)</script>",
		"javajavascript:script:x",
		"ononclick==x",
		"  <script>a</script>  onload=  b ",
		"<a onClick  = \"x\">",
		"<b ononclick==x>",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Errorf("Text not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"invoice.pdf", "invoice.pdf"},
		{"report v2 (final).docx", "report v2 (final).docx"},
		{"../evil.exe", "evil.exe"},
		{`..\..\windows\system32\cmd.exe`, "windowssystem32cmd.exe"},
		{"a<b>c:d\"e|f?g*h.txt", "abcdefgh.txt"},
		{"....//etc/passwd", "etcpasswd"},
		{".../x", ".x"},
		{"tab\tname\x00.bin", "tabname.bin"},
		{"  spaced.bin  ", "spaced.bin"},
	}
	for _, tt := range tests {
		if got := FileName(tt.in); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"clean.txt",
		"../../x",
		". ./x",
		".:.",
		"..././",
		".<.>.",
		" . . ",
		"\x01..\x02..",
	}
	for _, in := range inputs {
		once := FileName(in)
		if twice := FileName(once); twice != once {
			t.Errorf("FileName not idempotent for %q: %q -> %q", in, once, twice)
		}
		if strings.Contains(once, "..") {
			t.Errorf("FileName(%q) = %q still contains ..", in, once)
		}
	}
}

func TestRecordName_KeepsOrdinaryNames(t *testing.T) {
	for _, name := range []string{"onboarding=1.pdf", "session-one.log", "condition=ok.txt"} {
		if got := RecordName(name); got != name {
			t.Errorf("RecordName(%q) = %q, want it unchanged", name, got)
		}
		if got := FileName(name); got != name {
			t.Errorf("FileName(%q) = %q, want it unchanged", name, got)
		}
	}
}

func TestRecordName(t *testing.T) {
	got := RecordName("../evil<script>.exe")
	if strings.Contains(got, "..") || strings.Contains(got, "<script") {
		t.Errorf("RecordName left unsafe content: %q", got)
	}
	if got != "evilscript.exe" {
		t.Errorf("RecordName = %q, want %q", got, "evilscript.exe")
	}
	if again := RecordName(got); again != got {
		t.Errorf("RecordName not idempotent: %q -> %q", got, again)
	}
}
