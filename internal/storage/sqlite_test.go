package storage

import (
	"testing"

	"github.com/fieldwire/modgate/internal/model"
)

func TestSnapshotStoreDeviceRoundTrip(t *testing.T) {
	store, err := NewSnapshotStore(":memory:", "test-master-key")
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	defer store.Close()

	if err := store.UpsertDevice("dev1", "modbus", true); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	devices, err := store.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "dev1" || !devices[0].Online {
		t.Fatalf("devices = %+v", devices)
	}

	if err := store.RemoveDevice("dev1"); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	devices, _ = store.ListDevices()
	if len(devices) != 0 {
		t.Fatalf("expected no devices after removal, got %+v", devices)
	}
}

func TestSnapshotStoreValueRoundTrip(t *testing.T) {
	store, err := NewSnapshotStore(":memory:", "test-master-key")
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	defer store.Close()

	if err := store.SaveValue("dev1", "temp", model.Float(21.5)); err != nil {
		t.Fatalf("SaveValue: %v", err)
	}
	if err := store.SaveValue("dev1", "running", model.Bool(true)); err != nil {
		t.Fatalf("SaveValue: %v", err)
	}

	values, err := store.LoadValues("dev1")
	if err != nil {
		t.Fatalf("LoadValues: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("values = %+v, want 2 entries", values)
	}
	if values["temp"].Float != 21.5 {
		t.Fatalf("temp = %+v", values["temp"])
	}
	if !values["running"].Bool {
		t.Fatalf("running = %+v", values["running"])
	}
}

func TestSnapshotStoreUpsertDeviceOverwrites(t *testing.T) {
	store, err := NewSnapshotStore(":memory:", "test-master-key")
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	defer store.Close()

	store.UpsertDevice("dev1", "modbus", false)
	store.UpsertDevice("dev1", "modbus", true)

	devices, _ := store.ListDevices()
	if len(devices) != 1 || !devices[0].Online {
		t.Fatalf("devices = %+v, want single online entry", devices)
	}
}

func TestSnapshotStoreSecretRoundTrip(t *testing.T) {
	store, err := NewSnapshotStore(":memory:", "test-master-key")
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.LoadSecret("jwt_secret"); err != nil || ok {
		t.Fatalf("LoadSecret before save: ok=%v err=%v, want ok=false", ok, err)
	}

	if err := store.SaveSecret("jwt_secret", "super-secret-value"); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}

	value, ok, err := store.LoadSecret("jwt_secret")
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if !ok || value != "super-secret-value" {
		t.Fatalf("LoadSecret = %q, %v, want %q, true", value, ok, "super-secret-value")
	}

	if err := store.SaveSecret("jwt_secret", "rotated-value"); err != nil {
		t.Fatalf("SaveSecret overwrite: %v", err)
	}
	value, _, _ = store.LoadSecret("jwt_secret")
	if value != "rotated-value" {
		t.Fatalf("LoadSecret after overwrite = %q, want rotated-value", value)
	}
}
