package main

import (
	"encoding/csv"
	"os"
	"testing"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	return records
}

func TestBuildPortalCSVSchema(t *testing.T) {
	rows := []map[string]string{
		{"Name": "Juan Pérez", "Email": "juan@mail.com", "Gender": "Male"},
		{"Nombre y Apellido": "Ana García", "email": "ana@mail.com"},
	}

	path, count, err := BuildPortalCSV(rows)
	if err != nil {
		t.Fatalf("BuildPortalCSV: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if count != 2 {
		t.Fatalf("expected 2 rows written, got %d", count)
	}

	records := readCSV(t, path)
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}

	header := records[0]
	if len(header) != 27 {
		t.Fatalf("expected 27 columns, got %d", len(header))
	}
	if header[0] != "email" || header[1] != "tickets amount" || header[26] != "licensePlate" {
		t.Errorf("header order wrong: %v", header)
	}

	first := records[1]
	if first[0] != "juan@mail.com" || first[1] != "1" || first[2] != "Juan" || first[3] != "Pérez" {
		t.Errorf("first row wrong: %v", first)
	}
	if first[14] != "Male" {
		t.Errorf("gender column = %q", first[14])
	}
	if first[20] != "TRUE" || first[21] != "TRUE" {
		t.Errorf("consent columns must be TRUE, got %q %q", first[20], first[21])
	}

	second := records[2]
	if second[0] != "ana@mail.com" || second[2] != "Ana" || second[3] != "García" {
		t.Errorf("alias resolution failed: %v", second)
	}
}

func TestBuildPortalCSVDropsRowsWithoutEmail(t *testing.T) {
	rows := []map[string]string{
		{"Name": "Juan Pérez", "Email": "juan@mail.com"},
		{"Name": "Sin Correo"},
		{"Name": "Email Vacío", "Email": "  "},
	}

	path, count, err := BuildPortalCSV(rows)
	if err != nil {
		t.Fatalf("BuildPortalCSV: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if count != 1 {
		t.Fatalf("expected 1 row written, got %d", count)
	}
	records := readCSV(t, path)
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(records))
	}
}

func TestBuildPortalCSVEmptyInputWritesHeaderOnly(t *testing.T) {
	path, count, err := BuildPortalCSV(nil)
	if err != nil {
		t.Fatalf("BuildPortalCSV: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if count != 0 {
		t.Fatalf("expected 0 rows, got %d", count)
	}
	records := readCSV(t, path)
	if len(records) != 1 {
		t.Fatalf("expected header only, got %d records", len(records))
	}
}

func TestResolveGuestFieldAliasOrder(t *testing.T) {
	row := map[string]string{
		"Nombre y Apellido": "Ana García",
		"Nombre":            "Ignorada",
	}
	if got := resolveGuestField(row, nameAliases...); got != "Ana García" {
		t.Errorf("resolveGuestField = %q", got)
	}

	blank := map[string]string{"name": "  ", "Nombre": "Ana"}
	if got := resolveGuestField(blank, nameAliases...); got != "Ana" {
		t.Errorf("blank values must be skipped, got %q", got)
	}

	if got := resolveGuestField(map[string]string{}, emailAliases...); got != "" {
		t.Errorf("missing field should resolve empty, got %q", got)
	}
}
