package sensor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSysfsReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage0_raw")
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewSysfsReader(path).Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 1234 {
		t.Errorf("got %d, want 1234", got)
	}
}

func TestSysfsReaderMissing(t *testing.T) {
	_, err := NewSysfsReader(filepath.Join(t.TempDir(), "nope")).Read()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestParseRaw(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"4095\n", 4095, false},
		{" 17 ", 17, false},
		{"4096", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseRaw([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRaw(%q) err=%v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRaw(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseRawRangeError(t *testing.T) {
	_, err := parseRaw([]byte("9999"))
	if !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
}

func TestPath(t *testing.T) {
	if got := Path(1, 3); got != "/sys/bus/iio/devices/iio:device1/in_voltage3_raw" {
		t.Errorf("Path: got %s", got)
	}
	if Path(0, 0) != DefaultPath {
		t.Error("DefaultPath mismatch")
	}
}

func TestFakeReader(t *testing.T) {
	f := NewFakeReader(100)
	if v, _ := f.Read(); v != 100 {
		t.Errorf("got %d", v)
	}
	f.Set(200)
	f.SetError(errors.New("adc busy"))
	if _, err := f.Read(); err == nil {
		t.Error("expected error")
	}
	f.SetError(nil)
	if v, _ := f.Read(); v != 200 {
		t.Errorf("got %d", v)
	}
	if f.Reads() != 3 {
		t.Errorf("reads: %d", f.Reads())
	}
}
