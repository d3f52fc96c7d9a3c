package storage

import "testing"

func TestMirrorKeyFormat(t *testing.T) {
	got := mirrorKey("modgate", "dev1", "temp")
	want := "modgate:value:dev1:temp"
	if got != want {
		t.Fatalf("mirrorKey = %q, want %q", got, want)
	}
}

func TestRedisMirrorConfigKeyPrefixZeroValue(t *testing.T) {
	cfg := RedisMirrorConfig{Addr: "127.0.0.1:6379"}
	if cfg.KeyPrefix != "" {
		t.Fatalf("expected zero-value KeyPrefix before NewValueMirror defaults it")
	}
}
