package output

import "testing"

func TestIsShellPromptLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"user@host:/var/www#", true},
		{"user@host:~$ ", true},
		{"$", true},
		{"total 8", false},
		{"echo $HOME", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := IsShellPromptLine(tt.line); got != tt.want {
				t.Errorf("IsShellPromptLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestInferDirectory(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"user@host:/var/www#", "/var/www", true},
		{"user@host:/var/www# ", "/var/www", true},
		{"deploy@web01:~/releases/current$ ", "~/releases/current", true},
		{"root@box:/#", "/", true},
		{"~$", "~", true},
		{"~user@host:/srv$", "/srv", true},
		{"[user@host www]$", "", false},
		{"[alice@web01 ~]$", "~", true},
		{"[root@web01 /etc]# ", "/etc", true},
		{"[deploy@web01 ~/app]$ ", "~/app", true},
		{"ls /var/www", "", false},
		{"no path here #", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := InferDirectory(tt.line)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("InferDirectory(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDirContext_SetDir(t *testing.T) {
	c := NewDirContext()

	if !c.SetDir("/var/www") {
		t.Error("first SetDir should report a change")
	}
	if c.SetDir("/var/www") {
		t.Error("SetDir with the same value should not report a change")
	}
	if !c.SetDir("/tmp") {
		t.Error("SetDir with a new value should report a change")
	}

	c.Items.Add("a.txt")
	c.Reset()
	if c.Dir != "" || len(c.Items) != 0 {
		t.Errorf("after Reset: Dir=%q items=%d, want empty", c.Dir, len(c.Items))
	}
}
