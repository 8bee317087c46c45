package core

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNormalizeStockList(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"600519,HK00700,AAPL", "600519,HK00700,AAPL"},
		{" 600519 , hk00700 ", "600519,HK00700"},
		{"600519\nAAPL\t MSFT", "600519,AAPL,MSFT"},
		{"600519，AAPL", "600519,AAPL"}, // full-width comma
		{"600519,600519,600519", "600519"},
		{"", ""},
		{", , ,", ""},
	}
	for _, tc := range cases {
		if got := NormalizeStockList(tc.in); got != tc.want {
			t.Errorf("NormalizeStockList(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEnvWatchlistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	repo := NewEnvWatchlistRepository(path)
	ctx := context.Background()

	// missing file reads as empty, not an error
	list, err := repo.Get(ctx, 0)
	if err != nil || list != "" {
		t.Fatalf("Get on missing file: %q, %v", list, err)
	}

	if err := repo.Set(ctx, 0, "600519,AAPL"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	list, err = repo.Get(ctx, 0)
	if err != nil || list != "600519,AAPL" {
		t.Fatalf("Get after Set: %q, %v", list, err)
	}

	// overwrite keeps only the latest list
	if err := repo.Set(ctx, 0, "MSFT"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if list, _ = repo.Get(ctx, 0); list != "MSFT" {
		t.Fatalf("Get after overwrite: %q", list)
	}
}
