package oui

import (
	"bytes"
	"testing"
)

func TestLookupVendorLongestPrefixMatch(t *testing.T) {
	testDB := &DB{
		Entries: map[string]Entry{
			"001122":    {Manufacturer: "Broadcom (OUI-24)"},
			"0011223":   {Manufacturer: "Chipset X (OUI-28)"},
			"001122334": {Manufacturer: "Device Y (OUI-36)"},
			"A8BBCC":    {Manufacturer: "Vendor B"},
		},
	}
	var buf bytes.Buffer
	if err := testDB.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if err := LoadFromBytes(buf.Bytes()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mac  string
		want string
	}{
		{"00:11:22:AA:BB:CC", "Broadcom (OUI-24)"},
		{"00:11:22:30:00:00", "Chipset X (OUI-28)"},
		{"00:11:22:33:4F:FF", "Device Y (OUI-36)"},
		{"A8-BB-CC-DD-EE-FF", "Vendor B"},
		{"00:11:22", "Broadcom (OUI-24)"},
		{"00:11:2", ""},
		{"XX:YY:ZZ:00:00:00", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.mac, func(t *testing.T) {
			if got := LookupVendor(tt.mac); got != tt.want {
				t.Errorf("LookupVendor(%q) = %q; want %q", tt.mac, got, tt.want)
			}
		})
	}
}

func TestLookupVendorRandomMAC(t *testing.T) {
	if got := LookupVendor("02:11:22:33:44:55"); got != "Random MAC" {
		t.Errorf("expected Random MAC for locally administered address, got %q", got)
	}
}

func TestLookupVendorSeedData(t *testing.T) {
	mu.Lock()
	db = &DB{Entries: seed}
	mu.Unlock()

	if got := LookupVendor("B8:27:EB:00:00:01"); got != "Raspberry Pi Foundation" {
		t.Errorf("expected seed vendor match, got %q", got)
	}
}
