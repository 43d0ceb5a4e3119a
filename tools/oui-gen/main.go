// Command oui-gen writes a compact (gzip+gob) OUI vendor-prefix database
// for oui.LoadFromBytes: either a curated set of common consumer/IoT
// vendors for quick local testing, or the full IEEE registry via -real.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.meridian.dev/meridian/internal/oui"
)

func main() {
	useReal := flag.Bool("real", false, "Download the full IEEE OUI database (slow, requires network)")
	out := flag.String("out", "internal/oui/assets/oui.db.gz", "Output path for the compact database")
	flag.Parse()

	var db *oui.DB
	var err error

	if *useReal {
		fmt.Println("Downloading IEEE OUI database...")
		start := time.Now()
		db, err = oui.Build()
		if err != nil {
			fmt.Printf("Failed to download OUI data: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Downloaded %d entries in %v\n", len(db.Entries), time.Since(start))
	} else {
		db = &oui.DB{
			Entries: map[string]oui.Entry{
				"005056": {Manufacturer: "VMware, Inc."},
				"525400": {Manufacturer: "QEMU Virtual NIC"},
				"000C29": {Manufacturer: "VMware, Inc."},
				"001C42": {Manufacturer: "Parallels, Inc."},
				"080027": {Manufacturer: "Oracle VirtualBox"},
				"A4C361": {Manufacturer: "Apple, Inc."},
				"A8667F": {Manufacturer: "Apple, Inc."},
				"F0B479": {Manufacturer: "Apple, Inc."},
				"10FE2B": {Manufacturer: "TP-Link Technologies"},
				"14EB08": {Manufacturer: "TP-Link Technologies"},
				"24A43C": {Manufacturer: "Ubiquiti Inc"},
				"44D9E7": {Manufacturer: "Ubiquiti Inc"},
				"000FB5": {Manufacturer: "Netgear"},
				"20E52A": {Manufacturer: "Netgear"},
				"000F66": {Manufacturer: "Cisco-Linksys"},
				"00233F": {Manufacturer: "Cisco Systems"},
				"048D38": {Manufacturer: "ASUS"},
				"2C4D54": {Manufacturer: "ASUS"},
				"002500": {Manufacturer: "Intel Corporate"},
				"18CC18": {Manufacturer: "Intel Corporate"},
				"0010A4": {Manufacturer: "Broadcom"},
				"002219": {Manufacturer: "Dell Inc."},
				"001E0B": {Manufacturer: "Hewlett Packard"},
				"002162": {Manufacturer: "Samsung Electronics"},
				"B827EB": {Manufacturer: "Raspberry Pi Foundation"},
				"DCEEB9": {Manufacturer: "Raspberry Pi Foundation"},
				"38D4D4": {Manufacturer: "Amazon Technologies"},
				"3C5AB4": {Manufacturer: "Google, Inc."},
				"303926": {Manufacturer: "Microsoft Corporation"},
				"78281C": {Manufacturer: "Sonos, Inc."},
				"00E04C": {Manufacturer: "Realtek Semiconductor"},
				"18FE34": {Manufacturer: "Espressif Inc."},
				"24A16D": {Manufacturer: "Espressif Inc."},
				"A4CF12": {Manufacturer: "Espressif Inc."},
			},
		}
		fmt.Printf("Generated curated OUI database with %d entries\n", len(db.Entries))
		fmt.Println("Run with -real to download the full IEEE database (~35k entries)")
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Printf("Failed to create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := db.Save(f); err != nil {
		fmt.Printf("Failed to save: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved to %s\n", *out)
}
