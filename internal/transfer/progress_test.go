package transfer

import (
	"strings"
	"testing"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		text   string
		want   float64
		wantOK bool
	}{
		{"site.tgz   45%  1.2MB  1.1MB/s  00:01 ETA", 0.45, true},
		{"a.log 10% ... a.log 100%", 1, true},
		{"      32,768   0%    0.00kB/s    0:00:00", 0, true},
		{"disk 250% full, then 7%", 0.07, true},
		{"connecting to files...", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseProgress(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseProgress(%q) = %v, %v, want %v, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFailureHint(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, ""},
		{1, "source exists"},
		{5, "authentication failed"},
		{6, "authentication failed"},
		{23, "partial transfer"},
		{124, "timed out"},
		{126, "not executable"},
		{127, "not found"},
		{137, "interrupted"},
		{255, "ssh connection failed"},
		{42, "exit code 42"},
	}

	for _, tt := range tests {
		got := FailureHint(tt.code)
		if tt.want == "" {
			if got != "" {
				t.Errorf("FailureHint(%d) = %q, want empty", tt.code, got)
			}
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("FailureHint(%d) = %q, want it to contain %q", tt.code, got, tt.want)
		}
	}
}

func TestLogBuffer_EvictsOldestHalf(t *testing.T) {
	l := newLogBuffer(10)

	l.Write("0123456789")
	if l.String() != "0123456789" {
		t.Fatalf("String() = %q", l.String())
	}

	l.Write("ab")
	// 12 bytes > 10: the oldest 6 go.
	if got := l.String(); got != "6789ab" {
		t.Errorf("String() = %q, want %q", got, "6789ab")
	}
	if l.Evicted() != 6 {
		t.Errorf("Evicted() = %d, want 6", l.Evicted())
	}
}

func TestLogBuffer_HugeWrite(t *testing.T) {
	l := newLogBuffer(8)
	l.Write(strings.Repeat("x", 100))
	if n := len(l.String()); n > 8 {
		t.Errorf("len = %d, want <= 8", n)
	}
}

func TestLogBuffer_KeepsRunes(t *testing.T) {
	l := newLogBuffer(6)
	l.Write("ééééé") // 10 bytes
	if !strings.HasPrefix(l.String(), "é") {
		t.Errorf("String() = %q, split a rune", l.String())
	}
}

func TestParseRemote(t *testing.T) {
	tests := []struct {
		in      string
		want    remoteSpec
		wantErr bool
	}{
		{"deploy@files:/srv/app.tgz", remoteSpec{user: "deploy", host: "files", path: "/srv/app.tgz"}, false},
		{"files:", remoteSpec{host: "files"}, false},
		{"bob@[fe80::1]:/tmp/x", remoteSpec{user: "bob", host: "fe80::1", path: "/tmp/x"}, false},
		{"files", remoteSpec{}, true},
		{":/srv", remoteSpec{}, true},
		{"[fe80::1]/tmp", remoteSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRemote(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRemote(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}

	if s := (remoteSpec{user: "u", host: "h", path: "/p"}).String(); s != "u@h:/p" {
		t.Errorf("String() = %q", s)
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"/srv/app.tgz":      "/srv/app.tgz",
		"deploy@files:/srv": "deploy@files:/srv",
		"my file.txt":       "'my file.txt'",
		"it's":              `'it'\''s'`,
		"$HOME":             "'$HOME'",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
