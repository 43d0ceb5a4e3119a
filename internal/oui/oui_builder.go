package oui

import (
	"bufio"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// IEEE registry sources for a full offline refresh. Not on the discovery
// engine's hot path; used only by the oui-gen command to produce a blob
// for LoadFromBytes.
const (
	IEEEOUISource = "https://standards-oui.ieee.org/oui/oui.txt"
	IEEEMAMSource = "https://standards-oui.ieee.org/oui28/mam.txt"
	IEEEMASSource = "https://standards-oui.ieee.org/oui36/oui36.txt"
	IEEEIABSource = "https://standards-oui.ieee.org/iab/iab.txt"
)

var hexLineRegex = regexp.MustCompile(`^([0-9A-F]{2})-([0-9A-F]{2})-([0-9A-F]{2})([-0-9A-F]*)\s+\(hex\)\s+(.+)$`)

// Build downloads and parses the IEEE OUI registries into a compact DB
// suitable for DB.Save.
func Build() (*DB, error) {
	out := &DB{Entries: make(map[string]Entry)}
	for _, url := range []string{IEEEOUISource, IEEEMAMSource, IEEEMASSource, IEEEIABSource} {
		if err := fetchAndParse(url, out); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
	return out, nil
}

func fetchAndParse(url string, db *DB) error {
	client := &http.Client{Timeout: 60 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Meridian-OUI-Builder/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := hexLineRegex.FindStringSubmatch(line)
		if len(m) != 6 {
			continue
		}
		prefix := m[1] + m[2] + m[3]
		if extra := strings.ReplaceAll(m[4], "-", ""); extra != "" {
			prefix += extra
		}
		db.Entries[prefix] = Entry{Manufacturer: strings.TrimSpace(m[5])}
	}
	return scanner.Err()
}
