package paths

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"windows path", `C:\temp\library.db`, "/mnt/c/temp/library.db"},
		{"lowercase drive", `d:\data\plex.db`, "/mnt/d/data/plex.db"},
		{"forward slashes with drive", "C:/temp/x", "/mnt/c/temp/x"},
		{"bare drive", "C:", "/mnt/c"},
		{"drive with slash only", `C:\`, "/mnt/c"},
		{"already unix", "/var/lib/plex/library.db", "/var/lib/plex/library.db"},
		{"relative unix", "backups/old.db", "backups/old.db"},
		{"whitespace trimmed", "  /tmp/a.db  ", "/tmp/a.db"},
		{"backslashes without drive", `share\plex\db`, "share/plex/db"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
