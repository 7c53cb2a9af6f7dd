package constants

// HTTP header constants
const (
	// ActorHeader carries the id of the authenticated person making the request.
	// Authentication itself happens in front of this service.
	ActorHeader = "X-Actor-ID"

	// ImageFormField is the multipart field holding the face image
	ImageFormField = "image"
)
