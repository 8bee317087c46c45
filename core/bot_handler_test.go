package core

import (
	"reflect"
	"testing"
)

func TestExtractStockCodes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"analyze 600519 please", []string{"600519"}},
		{"600519 hk00700 AAPL", []string{"600519", "HK00700", "AAPL"}},
		{"check 600519, and 600519!", []string{"600519"}},
		// lowercase words never read as US tickers
		{"buy some apple stock", nil},
		{"nothing here 123", nil},
		{"", nil},
	}
	for _, tc := range cases {
		if got := extractStockCodes(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractStockCodes(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFeishuMessageText(t *testing.T) {
	if got := feishuMessageText(`{"text":"analyze 600519"}`); got != "analyze 600519" {
		t.Fatalf("wrapped text = %q", got)
	}
	if got := feishuMessageText("plain 600519"); got != "plain 600519" {
		t.Fatalf("plain text passthrough = %q", got)
	}
}
