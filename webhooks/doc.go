// Package webhooks verifies, classifies and dispatches forge webhook deliveries.
//
// Delivery processing is driven by a claim lifecycle:
// processing -> processed|retry_ready|dead.
// A delivery that failed in the handler can be claimed again when the forge
// redelivers it, while processed deliveries are acknowledged without running
// the handler a second time.
package webhooks
