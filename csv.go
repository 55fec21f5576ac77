package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
)

// portalColumns is the import schema the ticketing portal expects. Column
// order and header spelling are fixed by the portal, not by us.
var portalColumns = []string{
	"email",
	"tickets amount",
	"firstName",
	"surname",
	"phoneticName",
	"phoneticSurname",
	"idCard",
	"idTypeCard",
	"address",
	"district",
	"city",
	"state",
	"country",
	"birthDate",
	"gender",
	"language",
	"telephone",
	"phoneCountryCode",
	"profileImageUrl",
	"company",
	"acceptsCommercialOffers",
	"acceptsLegalTerms",
	"customField1",
	"customField2",
	"department",
	"jobTitle",
	"licensePlate",
}

// BuildPortalCSV writes the guest rows as a portal import file in the OS temp
// dir and returns its path plus the number of data rows written. Rows without
// an email cannot receive a ticket and are dropped with a warning. The caller
// owns removal of the returned file.
func BuildPortalCSV(rows []map[string]string) (string, int, error) {
	f, err := os.CreateTemp("", "guestlist-*.csv")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(portalColumns); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("writing csv header: %w", err)
	}

	written := 0
	for _, row := range rows {
		email := resolveGuestField(row, emailAliases...)
		if email == "" {
			log.Printf("csv dropped row without email name=%q", resolveGuestField(row, nameAliases...))
			continue
		}
		first, last := splitFullName(resolveGuestField(row, nameAliases...))

		record := make([]string, len(portalColumns))
		record[0] = email
		record[1] = "1"
		record[2] = first
		record[3] = last
		record[14] = row["Gender"]
		record[20] = "TRUE"
		record[21] = "TRUE"
		if err := w.Write(record); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", 0, fmt.Errorf("writing csv row: %w", err)
		}
		written++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("flushing csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("closing csv: %w", err)
	}

	log.Printf("csv built path=%s rows=%d dropped=%d", f.Name(), written, len(rows)-written)
	return f.Name(), written, nil
}
