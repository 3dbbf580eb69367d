package rules

// Built-in rule class names, as referenced from definition files.
const (
	ClassPromptLeak      = "prompt_leak"
	ClassSQLInjection    = "sql_injection"
	ClassRoleOverride    = "role_override"
	ClassVendorCount     = "vendor_count"
	ClassInvoiceVolume   = "invoice_volume"
	ClassChallengeStreak = "challenge_streak"
)

// RegisterBuiltins populates the registry with every compiled-in rule
// class. Called once at startup so initialization order is deterministic;
// a definition naming an unregistered class is inert.
func RegisterBuiltins(r *Registry) error {
	detectors := map[string]Constructor{
		ClassPromptLeak:   NewPromptLeakDetector,
		ClassSQLInjection: NewSQLInjectionDetector,
		ClassRoleOverride: NewRoleOverrideDetector,
	}
	for class, c := range detectors {
		if err := r.RegisterDetector(class, c); err != nil {
			return err
		}
	}
	evaluators := map[string]Constructor{
		ClassVendorCount:     NewVendorCountEvaluator,
		ClassInvoiceVolume:   NewInvoiceVolumeEvaluator,
		ClassChallengeStreak: NewChallengeStreakEvaluator,
	}
	for class, c := range evaluators {
		if err := r.RegisterEvaluator(class, c); err != nil {
			return err
		}
	}
	return nil
}
