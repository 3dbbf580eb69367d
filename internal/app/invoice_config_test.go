package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeInvoiceConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invoice_review.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadInvoiceReviewConfig(t *testing.T) {
	path := writeInvoiceConfig(t, `
auto_approve_threshold: 500
manual_review_threshold: 5000
max_invoice_amount: 50000
require_purchase_order: true
duplicate_window_days: 30
`)
	cfg, err := LoadInvoiceReviewConfig(path)
	if err != nil {
		t.Fatalf("LoadInvoiceReviewConfig: %v", err)
	}
	if cfg.AutoApproveThreshold != 500 || cfg.ManualReviewThreshold != 5000 || cfg.MaxInvoiceAmount != 50000 {
		t.Fatalf("thresholds wrong: %+v", cfg)
	}
	if !cfg.RequirePurchaseOrder || cfg.DuplicateWindowDays != 30 {
		t.Fatalf("flags wrong: %+v", cfg)
	}
}

func TestInvoiceThresholdOrderingEnforced(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "auto above manual",
			yaml: "auto_approve_threshold: 6000\nmanual_review_threshold: 5000\nmax_invoice_amount: 50000\n",
			want: "auto_approve_threshold",
		},
		{
			name: "auto equals manual",
			yaml: "auto_approve_threshold: 5000\nmanual_review_threshold: 5000\nmax_invoice_amount: 50000\n",
			want: "auto_approve_threshold",
		},
		{
			name: "manual above max",
			yaml: "auto_approve_threshold: 500\nmanual_review_threshold: 60000\nmax_invoice_amount: 50000\n",
			want: "manual_review_threshold",
		},
		{
			name: "zero auto approve",
			yaml: "auto_approve_threshold: 0\nmanual_review_threshold: 5000\nmax_invoice_amount: 50000\n",
			want: "auto_approve_threshold must be positive",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeInvoiceConfig(t, tc.yaml)
			_, err := LoadInvoiceReviewConfig(path)
			if err == nil {
				t.Fatalf("config accepted, want rejection")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadInvoiceReviewConfigMissingFile(t *testing.T) {
	if _, err := LoadInvoiceReviewConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
