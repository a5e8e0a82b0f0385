package config

import (
	"testing"
	"time"
)

func TestValidateRejectsSkipVerificationInProduction(t *testing.T) {
	cfg := Config{
		Environment:            "production",
		SkipVerification:       true,
		CardSignatureTolerance: 5 * time.Minute,
		WalletHTTPTimeout:      10 * time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for skip-verification in production")
	}
}

func TestValidateAllowsSkipVerificationInDevelopment(t *testing.T) {
	cfg := Config{
		Environment:            "development",
		SkipVerification:       true,
		CardSignatureTolerance: 5 * time.Minute,
		WalletHTTPTimeout:      10 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRequiresPositiveTolerances(t *testing.T) {
	cfg := Config{Environment: "development", WalletHTTPTimeout: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero signature tolerance")
	}
}
