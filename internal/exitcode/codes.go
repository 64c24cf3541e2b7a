package exitcode

// Exit codes for the compactor CLI.
// Schedulers can use these to decide retry strategy.
const (
	// Success - run completed, all groups merged or all tables verified
	Success = 0

	// ConfigError - missing or invalid configuration or flags
	// Don't retry: fix the config first
	ConfigError = 1

	// StorageError - bucket missing, listing failed or store unreachable
	// Retry with backoff
	StorageError = 4

	// VerificationFailed - at least one table failed verification
	// Don't retry: investigate the combined objects
	VerificationFailed = 6

	// CombineIncomplete - combine finished but some groups failed
	// Rerun with --force: tables with combined objects are skipped otherwise
	CombineIncomplete = 7

	// Interrupted - SIGINT or SIGTERM before the run finished
	Interrupted = 130
)
