package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP requests with retry logic.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with parameters.
	// Non-200 responses are returned as *helpers.ScrapeError.
	Get(ctx context.Context, url string, params map[string]string) ([]byte, error)
}
