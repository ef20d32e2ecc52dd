package metrics

import "errors"

// ErrPushFailed is returned when the Pushgateway rejects or misses a push.
var ErrPushFailed = errors.New("metrics push failed")
