package email

import "testing"

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"bare address", "kari@uio.no", "uio.no"},
		{"display name", "Kari Nordmann <kari@example.no>", "example.no"},
		{"mixed case domain", "post@UiT.No", "uit.no"},
		{"stray angle bracket", "office@example.org>", "example.org"},
		{"no at sign", "postmottak", ""},
		{"no local part", "@uio.no", ""},
		{"no domain", "kari@", ""},
		{"empty", "", ""},
		{"institution subdomain", "kari@ifi.uio.no", "ifi.uio.no"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractDomain(tc.email); got != tc.want {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, got, tc.want)
			}
		})
	}
}

func TestDomainOr(t *testing.T) {
	tests := []struct {
		email    string
		fallback string
		expected string
	}{
		{"user@example.com", "localhost", "example.com"},
		{"invalid", "localhost", "localhost"},
		{"", "localhost", "localhost"},
	}

	for _, tc := range tests {
		if got := DomainOr(tc.email, tc.fallback); got != tc.expected {
			t.Errorf("DomainOr(%q, %q) = %q, want %q", tc.email, tc.fallback, got, tc.expected)
		}
	}
}

func TestIsAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"kari@example.com", true},
		{"ola.nordmann@uit.no", true},
		{"Kari <kari@example.com>", false},
		{" kari@example.com", false},
		{"kari", false},
		{"kari@", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAddress(tt.addr); got != tt.want {
			t.Errorf("IsAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
