package main

import "testing"

func TestParseMove(t *testing.T) {
	cases := []struct {
		in              string
		from, to, promo string
		ok              bool
	}{
		{"e2e4", "e2", "e4", "", true},
		{"E2 E4", "e2", "e4", "", true},
		{"e7-e8n", "e7", "e8", "n", true},
		{"e2", "", "", "", false},
		{"e2e4e5", "", "", "", false},
	}
	for _, tc := range cases {
		from, to, promo, ok := parseMove(tc.in)
		if ok != tc.ok || from != tc.from || to != tc.to || promo != tc.promo {
			t.Fatalf("parseMove(%q) = %q %q %q %v", tc.in, from, to, promo, ok)
		}
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range root().Commands() {
		names[c.Name()] = true
	}
	if !names["serve"] || !names["play"] {
		t.Fatalf("subcommands = %v", names)
	}
}
