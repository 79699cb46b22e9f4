package routing

import "testing"

func TestMatchesPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/api/users/123", "/api/users", true},
		{"/api/users", "/api/users", true},
		{"/api/", "/api/", true},
		{"/api/test", "/api/", true},
		{"/api.evil.com/steal", "/api", false},
		{"/api-extended", "/api", false},
		{"/apiary", "/api", false},
		{"/api", "/api", true},
		{"/api/test", "/api", true},
		{"/other", "/api", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_vs_"+tt.prefix, func(t *testing.T) {
			got := MatchesPrefix(tt.path, tt.prefix)
			if got != tt.want {
				t.Errorf("MatchesPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
			}
		})
	}
}

type entry struct {
	prefix string
	name   string
}

func TestTable_LongestPrefixWins(t *testing.T) {
	table := NewTable([]entry{
		{"/api", "api"},
		{"/api/users", "users"},
		{"/", "root"},
	}, func(e entry) string { return e.prefix })

	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"/api/users/7", "users", true},
		{"/api/orders", "api", true},
		{"/apiary", "root", true},
		{"/", "root", true},
	}
	for _, tt := range tests {
		got, ok := table.Match(tt.path)
		if ok != tt.wantOK || got.name != tt.want {
			t.Errorf("Match(%q) = %q, %v; want %q, %v", tt.path, got.name, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTable_NoMatch(t *testing.T) {
	table := NewTable([]entry{{"/api", "api"}}, func(e entry) string { return e.prefix })

	got, ok := table.Match("/users")
	if ok {
		t.Errorf("Match(/users) = %+v, want no match", got)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestTable_DoesNotAliasInput(t *testing.T) {
	in := []entry{{"/a", "a"}, {"/a/b", "ab"}}
	table := NewTable(in, func(e entry) string { return e.prefix })
	in[0].name = "changed"

	entries := table.Entries()
	if entries[0].name != "ab" || entries[1].name != "a" {
		t.Errorf("Entries() = %+v, want longest prefix first and unaffected by caller edits", entries)
	}
}
