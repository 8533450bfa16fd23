// Package license decides whether an installation may run by asking a remote
// licensing authority and caching its answers according to a Policy.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- Checker: orchestrates checks on a single worker goroutine
//	- Policy: turns server verdicts into an access decision
//	- StrictPolicy: trusts only the most recent Licensed verdict
//	- ServerManagedPolicy: caches verdicts using server supplied extras
//	- CheckerHealth: health reporting for the worker and the policy
//
// Transport (Channel), response verification (Verifier) and persistence
// (PreferenceStore) are interfaces implemented elsewhere.
//
// # Check Flow
//
// A check follows these steps:
//
//	1. Ask the Policy; if it allows access, answer Allow(Licensed) at once
//	2. Queue a PendingCheck with a fresh nonce
//	3. Establish the Channel if it is not connected
//	4. Dispatch queued checks in FIFO order and arm a timeout for each
//	5. Verify the response, feed the Policy, then answer from the Policy
//	6. Release the Channel once nothing is queued or in flight
//
// Timeouts, dispatch failures and disconnects are treated as a Retry
// verdict. Every check resolves exactly once.
//
// # Usage
//
//	checker, err := license.NewChecker(license.CheckerConfig{
//		Policy:    license.NewServerManagedPolicy(prefs),
//		Channel:   channel,
//		Verifier:  verifier.NewSignatureVerifier(),
//		PublicKey: publicKey,
//		PackageID: "com.example.app",
//	})
//	if err != nil {
//		return err
//	}
//	defer checker.Close(ctx)
//
//	result, err := checker.Check(ctx)
//
// # Concurrency
//
// Callbacks run on the worker goroutine and must not block. Policy
// implementations are safe for concurrent use.
package license
