package constraints

// Delivery request headers.
const (
	HeaderWebhookID  = "X-Webhook-Id"
	HeaderDeliveryID = "X-Webhook-Delivery"
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderUserAgent  = "uploadhook-worker/1"
)

// SignaturePrefix precedes the hex HMAC-SHA256 of the request body.
const SignaturePrefix = "sha256="

const EventUploadCompleted = "upload.completed"
