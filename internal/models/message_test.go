package models

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusRead, StatusRead, true},
		{StatusRead, StatusDelivered, false},
		{StatusDelivered, StatusSent, false},
		{StatusSent, "Seen", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidateBody(t *testing.T) {
	if err := ValidateBody("Hello!"); err != nil {
		t.Fatalf("expected valid body, got %v", err)
	}
	if err := ValidateBody("   \n"); err == nil {
		t.Fatal("expected error for blank body")
	}
	if err := ValidateBody(strings.Repeat("a", MaxMessageLength+1)); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestBlockDirection(t *testing.T) {
	mine := BlockRelation{BlockerID: "me", BlockedID: "bob"}
	theirs := BlockRelation{BlockerID: "bob", BlockedID: "me"}
	unrelated := BlockRelation{BlockerID: "carol", BlockedID: "me"}

	tests := []struct {
		name      string
		relations []BlockRelation
		want      Direction
	}{
		{"No relations", nil, NotBlocked},
		{"I blocked them", []BlockRelation{mine}, YouBlockedThem},
		{"They blocked me", []BlockRelation{theirs}, TheyBlockedYou},
		{"Both directions", []BlockRelation{theirs, mine}, YouBlockedThem},
		{"Other pair only", []BlockRelation{unrelated}, NotBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlockDirection(tt.relations, "me", "bob"); got != tt.want {
				t.Errorf("BlockDirection() = %q, want %q", got, tt.want)
			}
		})
	}

	if YouBlockedThem.Banner() == TheyBlockedYou.Banner() {
		t.Error("banners for the two directions must differ")
	}
}
