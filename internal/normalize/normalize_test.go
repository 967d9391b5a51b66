package normalize

import (
	"reflect"
	"testing"
)

func TestPhone(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare ten digits", "5551234567", "5551234567"},
		{"dashed", "555-123-4567", "5551234567"},
		{"parenthesized", "(555) 123-4567", "5551234567"},
		{"country code prefix", "15551234567", "5551234567"},
		{"plus country code", "+15551234567", "5551234567"},
		{"international junk", "+1 (555) 123-4567 ext", "5551234567"},
		{"short number keeps digits", "911", "911"},
		{"seven digits unchanged", "123-4567", "1234567"},
		{"no digits", "call me", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Phone(tc.in); got != tc.want {
				t.Fatalf("Phone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestPhone_CountryCodeVariantsConverge(t *testing.T) {
	variants := []string{"5551234567", "15551234567", "+15551234567", "(555) 123-4567", "555.123.4567"}
	want := Phone(variants[0])
	for _, v := range variants {
		if got := Phone(v); got != want {
			t.Fatalf("Phone(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"John@Example.COM", "john@example.com"},
		{"  jane@example.com ", "jane@example.com"},
		{"user+tag@example.com", "user+tag@example.com"}, // no plus-addressing stripping
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Email(tc.in); got != tc.want {
			t.Fatalf("Email(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPhoneKeys_DedupesAndDropsEmpties(t *testing.T) {
	got := PhoneKeys([]string{"(555) 123-4567", "+15551234567", "", "no digits", "555-987-6543"})
	want := []string{"5551234567", "5559876543"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PhoneKeys = %v, want %v", got, want)
	}
}

func TestEmailKeys_DedupesCaseInsensitively(t *testing.T) {
	got := EmailKeys([]string{"John@Example.COM", "john@example.com", "jane@example.com"})
	want := []string{"john@example.com", "jane@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EmailKeys = %v, want %v", got, want)
	}
}
