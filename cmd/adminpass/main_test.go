package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRun_PrintsVerifiableHash(t *testing.T) {
	var out bytes.Buffer
	if err := run(strings.NewReader("correct horse\n"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")); err != nil {
		t.Errorf("printed hash does not verify: %v", err)
	}
}

func TestRun_NoTrailingNewline(t *testing.T) {
	var out bytes.Buffer
	if err := run(strings.NewReader("secret"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out.String())), []byte("secret")) != nil {
		t.Error("printed hash does not verify")
	}
}

func TestRun_EmptyPassword(t *testing.T) {
	var out bytes.Buffer
	if err := run(strings.NewReader("\n"), &out); err == nil {
		t.Fatal("expected error for empty password")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}
