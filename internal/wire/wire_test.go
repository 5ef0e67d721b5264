package wire

import (
	"bytes"
	"testing"
)

func TestJobMessageRoundTrip(t *testing.T) {
	m := &JobMessage{
		Project:      "xbbs",
		Job:          "gcc",
		Repository:   "https://example.org/xbbs.git",
		Revision:     "abc123",
		Intake:       "localhost:8024",
		BuildRoot:    "/var/tmp/build",
		NeededTools:  map[string]NameVersionArch{"binutils": {Version: "2.30", Architecture: "x86_64"}},
		ProdPkgs:     map[string]NameVersionArch{"gcc": {Version: "8.2.0", Architecture: "x86_64"}},
		ProdFiles:    []string{"README"},
		DistfilePath: "/var/cache/distfiles",
	}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := UnmarshalJobMessage(raw)
	if err != nil {
		t.Fatalf("UnmarshalJobMessage: %v", err)
	}
	if got.Project != m.Project || got.Job != m.Job || got.Revision != m.Revision {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.NeededTools["binutils"].Version != "2.30" {
		t.Fatalf("NeededTools lost in round trip: %+v", got.NeededTools)
	}
}

func TestJobMessageValidateRejectsMissingFields(t *testing.T) {
	m := &JobMessage{Project: "xbbs"}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := UnmarshalJobMessage(raw); err == nil {
		t.Fatalf("expected validation error for incomplete JobMessage")
	}
}

func TestJobMessageValidateRejectsBadFingerprint(t *testing.T) {
	m := &JobMessage{
		Project:    "xbbs",
		Job:        "gcc",
		Repository: "https://example.org/xbbs.git",
		Revision:   "abc123",
		XbpsKeys:   map[string][]byte{"not-a-fingerprint": []byte("key")},
	}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := UnmarshalJobMessage(raw); err == nil {
		t.Fatalf("expected validation error for malformed fingerprint")
	}
}

func TestChunkMessageValidateAcceptsInitialAndDigestLastHash(t *testing.T) {
	initial := &ChunkMessage{LastHash: []byte(InitialHash), Data: []byte("x")}
	if err := initial.Validate(); err != nil {
		t.Fatalf("Validate(initial): %v", err)
	}
	if !initial.IsInitial() {
		t.Fatalf("IsInitial() = false for sentinel last_hash")
	}

	chained := &ChunkMessage{LastHash: bytes.Repeat([]byte{0x01}, 64), Data: []byte("y")}
	if err := chained.Validate(); err != nil {
		t.Fatalf("Validate(chained): %v", err)
	}
	if chained.IsInitial() {
		t.Fatalf("IsInitial() = true for a real digest")
	}
}

func TestChunkMessageValidateRejectsShortLastHash(t *testing.T) {
	m := &ChunkMessage{LastHash: []byte{0x01, 0x02}, Data: []byte("y")}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for a non-initial, non-64-byte last_hash")
	}
}

func TestArtifactMessageValidateRejectsUnknownType(t *testing.T) {
	m := &ArtifactMessage{Project: "xbbs", Artifact: "gcc", ArtifactType: "bogus"}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := UnmarshalArtifactMessage(raw); err == nil {
		t.Fatalf("expected error for unknown artifact_type")
	}
}

func TestArtifactMessageValidateRejectsBadLastHashLength(t *testing.T) {
	m := &ArtifactMessage{
		Project:      "xbbs",
		Artifact:     "gcc",
		ArtifactType: ArtifactPackage,
		Success:      true,
		LastHash:     []byte{0x01},
	}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := UnmarshalArtifactMessage(raw); err == nil {
		t.Fatalf("expected error for short last_hash")
	}
}

func TestBuildMessageRoundTripAndValidate(t *testing.T) {
	incremental := true
	m := &BuildMessage{Project: "xbbs", Delay: 5, Incremental: &incremental}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := UnmarshalBuildMessage(raw)
	if err != nil {
		t.Fatalf("UnmarshalBuildMessage: %v", err)
	}
	if got.Project != "xbbs" || got.Delay != 5 || got.Incremental == nil || !*got.Incremental {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	missing := &BuildMessage{Delay: 1}
	raw, err = missing.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := UnmarshalBuildMessage(raw); err == nil {
		t.Fatalf("expected error for missing project")
	}
}

func TestStatusMessageRoundTrip(t *testing.T) {
	m := &StatusMessage{
		Hostname: "builder0",
		PID:      1234,
		Projects: map[string]ProjectStatus{
			"xbbs": {Git: "https://example.org/xbbs.git", Description: "xbbs itself", Classes: []string{"amd64"}, Running: true},
		},
	}
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := UnmarshalStatusMessage(raw)
	if err != nil {
		t.Fatalf("UnmarshalStatusMessage: %v", err)
	}
	if got.Hostname != "builder0" || got.PID != 1234 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if p := got.Projects["xbbs"]; !p.Running || p.Description != "xbbs itself" {
		t.Fatalf("Projects round trip mismatch: %+v", p)
	}
}
