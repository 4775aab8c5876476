package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/recon"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := recon.NewMemoryStore()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, k := range []domain.CanonicalKey{"van_3", "van_03_2", "van_05"} {
		if err := store.Put(ctx, domain.NewVehicleRecord(k, at)); err != nil {
			t.Fatal(err)
		}
	}
	r := recon.New(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var out bytes.Buffer
	if err := run(ctx, r, true, &out); err != nil {
		t.Fatal(err)
	}
	want := "moved   van_03_2 -> van_03\nmoved   van_3 -> van_03\nwould rekey 2 records (0 merged into existing vans)\n"
	if out.String() != want {
		t.Fatalf("dry run output:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, r, false, &out); err != nil {
		t.Fatal(err)
	}
	want = "moved   van_03_2 -> van_03\nmerged  van_3 -> van_03\nrekeyed 2 records (1 merged into existing vans)\n"
	if out.String() != want {
		t.Fatalf("output:\n%s", out.String())
	}
	if list, _ := store.List(ctx); len(list) != 2 {
		t.Fatalf("records = %v", list)
	}
}
