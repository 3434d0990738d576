// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// WebhookHTTPClient caps every outbound webhook call so a hung destination
// cannot stall a dispatch batch indefinitely.
var WebhookHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}
