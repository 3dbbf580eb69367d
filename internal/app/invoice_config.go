package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InvoiceReviewConfig holds the approval thresholds the invoice workflow
// routes on. The three values form a strict ladder; a config that breaks
// the ordering would silently auto-approve invoices meant for review, so
// loading rejects it outright.
type InvoiceReviewConfig struct {
	AutoApproveThreshold  float64 `yaml:"auto_approve_threshold"`
	ManualReviewThreshold float64 `yaml:"manual_review_threshold"`
	MaxInvoiceAmount      float64 `yaml:"max_invoice_amount"`
	RequirePurchaseOrder  bool    `yaml:"require_purchase_order"`
	DuplicateWindowDays   int     `yaml:"duplicate_window_days"`
}

func (c *InvoiceReviewConfig) Validate() error {
	if c.AutoApproveThreshold <= 0 {
		return fmt.Errorf("auto_approve_threshold must be positive, got %v", c.AutoApproveThreshold)
	}
	if !(c.AutoApproveThreshold < c.ManualReviewThreshold) {
		return fmt.Errorf("auto_approve_threshold (%v) must be below manual_review_threshold (%v)", c.AutoApproveThreshold, c.ManualReviewThreshold)
	}
	if !(c.ManualReviewThreshold < c.MaxInvoiceAmount) {
		return fmt.Errorf("manual_review_threshold (%v) must be below max_invoice_amount (%v)", c.ManualReviewThreshold, c.MaxInvoiceAmount)
	}
	if c.DuplicateWindowDays < 0 {
		return fmt.Errorf("duplicate_window_days must be non-negative, got %d", c.DuplicateWindowDays)
	}
	return nil
}

// LoadInvoiceReviewConfig reads and validates the thresholds file. There is
// no fallback default: a missing or invalid file fails startup.
func LoadInvoiceReviewConfig(path string) (*InvoiceReviewConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read invoice review config %s: %w", path, err)
	}
	var cfg InvoiceReviewConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse invoice review config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invoice review config %s: %w", path, err)
	}
	return &cfg, nil
}
