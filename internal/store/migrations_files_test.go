package store

import (
	"path/filepath"
	"testing"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := listMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := listMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}

	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}

	byVersion := map[string]int{}
	for _, file := range ups {
		byVersion[file.version]++
	}
	for _, file := range downs {
		byVersion[file.version] += 10
	}
	for version, count := range byVersion {
		if count != 11 {
			t.Fatalf("version %s must include exactly one up and one down file", version)
		}
	}
}

func TestListMigrationsOrdersByDirection(t *testing.T) {
	ups, err := listMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(ups); i++ {
		if ups[i-1].version >= ups[i].version {
			t.Fatalf("up migrations out of order: %s before %s", ups[i-1].name, ups[i].name)
		}
	}

	downs, err := listMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(downs); i++ {
		if downs[i-1].version <= downs[i].version {
			t.Fatalf("down migrations out of order: %s before %s", downs[i-1].name, downs[i].name)
		}
	}
}
