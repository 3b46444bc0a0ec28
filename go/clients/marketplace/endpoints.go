package marketplace

const (
	// API Endpoints
	LeadsEndpoint = "/api/v1/marketplace/leads"

	// DefaultPageSize matches the marketplace API's maximum page size
	DefaultPageSize = 100

	// MaxPages bounds a single snapshot walk
	MaxPages = 50

	// Headers
	AuthorizationHeader = "Authorization"
)
