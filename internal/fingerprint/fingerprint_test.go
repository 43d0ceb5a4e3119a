package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.meridian.dev/meridian/internal/model"
	"go.meridian.dev/meridian/internal/store"
)

func TestTTLWindowMedianOddAndEven(t *testing.T) {
	w := NewTTLWindow()
	_, ok := w.Median("10.0.0.1")
	require.False(t, ok)

	w.Add("10.0.0.1", 64)
	w.Add("10.0.0.1", 62)
	w.Add("10.0.0.1", 63)
	median, ok := w.Median("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, 63, median)

	w.Add("10.0.0.1", 61) // now 4 samples: 61,62,63,64 -> lower median 62
	median, ok = w.Median("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, 62, median)
}

func TestTTLWindowCapsAt100Samples(t *testing.T) {
	w := NewTTLWindow()
	for i := 0; i < 150; i++ {
		w.Add("10.0.0.2", 64)
	}
	w.samples["10.0.0.2"][0] = 1 // plant one low outlier in the capped window
	median, ok := w.Median("10.0.0.2")
	require.True(t, ok)
	require.Equal(t, 64, median, "a single stale low sample among 99 64s shouldn't move the median")
	require.Len(t, w.samples["10.0.0.2"], 100)
}

func TestRunFingerprintsMacOSFromVendorHostnameAndTTL(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:   "lan-aa:bb:cc:dd:ee:01",
		Type: model.SignalLAN,
		Name: "johns-macbook-pro",
		IP:   "192.168.1.20",
		LAN:  &model.LANAttrs{Vendor: "Apple, Inc."},
	})

	ttl := NewTTLWindow()
	ttl.Add("192.168.1.20", 64)

	before, _ := s.Get("lan-aa:bb:cc:dd:ee:01")

	Run(s, ttl, nil)

	after, _ := s.Get("lan-aa:bb:cc:dd:ee:01")
	require.Equal(t, "macos", after.OSFamily)
	require.NotNil(t, after.OSFingerprintConfidence)
	require.GreaterOrEqual(t, *after.OSFingerprintConfidence, minConfidence)
	require.Equal(t, before.LastSeen, after.LastSeen, "fingerprinting must not touch lastSeen")
	require.Equal(t, before.Status, after.Status)
}

func TestRunSkipsEntityAboveRevisitFloor(t *testing.T) {
	s := store.New()
	existing := 0.9
	s.Upsert(model.Entity{
		ID:                      "lan-11:22:33:44:55:01",
		Type:                    model.SignalLAN,
		Name:                    "johns-macbook-pro",
		IP:                      "192.168.1.21",
		LAN:                     &model.LANAttrs{Vendor: "Apple, Inc."},
		OSFamily:                "windows",
		OSFingerprintConfidence: &existing,
	})

	ttl := NewTTLWindow()
	ttl.Add("192.168.1.21", 64)

	Run(s, ttl, nil)

	e, _ := s.Get("lan-11:22:33:44:55:01")
	require.Equal(t, "windows", e.OSFamily, "entity already at the revisit floor must be left alone")
}

func TestRunLeavesEntityUnfingerprintedBelowConfidenceFloor(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:   "lan-99:88:77:66:55:01",
		Type: model.SignalLAN,
		Name: "mystery-device",
		IP:   "192.168.1.30",
		LAN:  &model.LANAttrs{Vendor: "Totally Unknown Vendor"},
	})

	Run(s, NewTTLWindow(), nil)

	e, _ := s.Get("lan-99:88:77:66:55:01")
	require.Empty(t, e.OSFamily)
	require.Nil(t, e.OSFingerprintConfidence)
}

func TestRunActiveProbeSignalCanPushPastFloorAlone(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:   "lan-01:02:03:04:05:06",
		Type: model.SignalLAN,
		Name: "unlabeled-host",
		IP:   "192.168.1.40",
		LAN:  &model.LANAttrs{Vendor: "Totally Unknown Vendor"},
	})

	probe := func(ip string) (string, bool) {
		if ip == "192.168.1.40" {
			return "linux", true
		}
		return "", false
	}

	Run(s, NewTTLWindow(), probe)

	e, _ := s.Get("lan-01:02:03:04:05:06")
	require.Equal(t, "linux", e.OSFamily)
	require.NotNil(t, e.OSFingerprintConfidence)
	require.InDelta(t, weightActiveProbe, *e.OSFingerprintConfidence, 0.001)
}

func TestRunWithDHCPVendorClassSignalAloneStaysBelowFloor(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:   "lan-aa:aa:aa:aa:aa:01",
		Type: model.SignalLAN,
		Name: "unlabeled-device",
		MAC:  "aa:aa:aa:aa:aa:01",
		IP:   "192.168.1.50",
		LAN:  &model.LANAttrs{Vendor: "Totally Unknown Vendor"},
	})

	dhcp := func(mac string) (string, string, bool) {
		if mac == "aa:aa:aa:aa:aa:01" {
			return "", "android-dhcp-11", true
		}
		return "", "", false
	}

	RunWithDHCP(s, NewTTLWindow(), nil, dhcp)

	e, _ := s.Get("lan-aa:aa:aa:aa:aa:01")
	require.Empty(t, e.OSFamily, "a single 0.3-weight signal must not clear the 0.45 confidence floor alone")
}

func TestRunWithDHCPVendorClassSignalCombinesWithHostname(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:   "lan-bb:bb:bb:bb:bb:01",
		Type: model.SignalLAN,
		Name: "my-android-phone",
		MAC:  "bb:bb:bb:bb:bb:01",
		IP:   "192.168.1.51",
		LAN:  &model.LANAttrs{Vendor: "Totally Unknown Vendor"},
	})

	dhcp := func(mac string) (string, string, bool) {
		if mac == "bb:bb:bb:bb:bb:01" {
			return "", "android-dhcp-11", true
		}
		return "", "", false
	}

	RunWithDHCP(s, NewTTLWindow(), nil, dhcp)

	e, _ := s.Get("lan-bb:bb:bb:bb:bb:01")
	require.Equal(t, "android", e.OSFamily)
	require.NotNil(t, e.OSFingerprintConfidence)
	require.InDelta(t, weightHostname+weightDHCPVendor, *e.OSFingerprintConfidence, 0.001)
}

func TestDeriveCategoryBluetoothMinorTypeTakesPrecedence(t *testing.T) {
	e := model.Entity{
		Type:           model.SignalBluetooth,
		ClassifierHint: "server",
		Bluetooth:      &model.BluetoothAttrs{MinorType: "Smartphone"},
	}
	require.Equal(t, "mobile", deriveCategory(e, "linux"))
}

func TestDeriveCategoryClassifierHintTakesPrecedenceOverOSFamily(t *testing.T) {
	e := model.Entity{Type: model.SignalLAN, ClassifierHint: "router"}
	require.Equal(t, "embedded", deriveCategory(e, "linux"))
}

func TestDeriveCategoryFallsBackToOSFamily(t *testing.T) {
	e := model.Entity{Type: model.SignalLAN}
	require.Equal(t, "desktop", deriveCategory(e, "windows"))
	require.Equal(t, "mobile", deriveCategory(e, "ios"))
	require.Equal(t, "unknown", deriveCategory(e, ""))
}

// TestFingerprintRunNeverExposesRawClassifierVocabulary guards spec.md
// §4.5's contract: an entity the classifier tagged but that never clears
// the fingerprinting confidence floor must not leak the classifier's raw
// category string through the published DeviceCategory field.
func TestFingerprintRunNeverExposesRawClassifierVocabulary(t *testing.T) {
	s := store.New()
	s.Upsert(model.Entity{
		ID:             "lan-cc:cc:cc:cc:cc:01",
		Type:           model.SignalLAN,
		ClassifierHint: "printer",
	})

	Run(s, NewTTLWindow(), nil)

	e, _ := s.Get("lan-cc:cc:cc:cc:cc:01")
	require.Empty(t, e.DeviceCategory)
	require.Equal(t, "printer", e.ClassifierHint)
}
