package common

import "time"

// AuthorizationHeaderName is the HTTP header used to carry the bearer token
// on outbound requests.
const AuthorizationHeaderName = "Authorization"

// MaxDeliveryAttempts is the retry ceiling for a queued action. An action
// that has already been attempted this many times is reported as failed and
// never dispatched again.
const MaxDeliveryAttempts = 5

// MaxChangeLogEntries bounds both the local change log and the per-user
// server ledger. Logs are trimmed to the most recent entries by timestamp.
const MaxChangeLogEntries = 1000

// DefaultQueueRetention is how long delivered queue items are kept before
// pruning. Pending items are never pruned.
const DefaultQueueRetention = 7 * 24 * time.Hour
