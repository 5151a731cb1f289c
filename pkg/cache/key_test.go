package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"no params", Key{Endpoint: "/issuers"}, "issuers"},
		{"detail", Key{Endpoint: "/types/12345", Params: url.Values{"lang": {"en"}}}, "types/12345:lang=en"},
		{
			name: "listing params sorted",
			key: Key{Endpoint: "/types", Params: url.Values{
				"year":  {"2020"},
				"page":  {"3"},
				"limit": {"100"},
				"lang":  {"en"},
			}},
			want: "types:lang=en:limit=100:page=3:year=2020",
		},
		{"multi-valued", Key{Endpoint: "/types", Params: url.Values{"q": {"eagle", "king"}}}, "types:q=eagle,king"},
		{"empty", Key{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key{Endpoint: "/types", Params: url.Values{"page": {"1"}, "q": {"eagle"}}}
	b := Key{Endpoint: "types/", Params: url.Values{"q": {"eagle"}, "page": {"1"}}}
	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a.String(), b.String())
	}
}

func TestKey_Kind(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"/types", "listing"},
		{"/types/12345", "detail"},
		{"/issuers", "issuers"},
		{"", "other"},
	}
	for _, tt := range tests {
		if got := (Key{Endpoint: tt.endpoint}).Kind(); got != tt.want {
			t.Errorf("Kind(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}
