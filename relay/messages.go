package relay

// Topics consumed and produced by the relay.
const (
	TopicValidationRequest  = "user-validation-request"
	TopicValidationResponse = "user-validation-response"
	TopicCreationRequest    = "user-creation-request"
	TopicCreationResponse   = "user-creation-response"
	TopicTenantInfoRequest  = "tenant_info_request"
	TopicTenantInfoResponse = "tenant_info_response"
	TopicIDUpdate           = "user-id-update"
	TopicDeadLetter         = "user-service-dlq"
)

// ValidationRequest asks for an access token to be verified.
type ValidationRequest struct {
	AccessToken string `json:"access_token"`
}

// ValidationResponse carries the subject of a valid token. CognitoID is
// null and Error holds the failure reason when verification fails.
type ValidationResponse struct {
	CognitoID *string `json:"cognito_id"`
	Error     string  `json:"error,omitempty"`
}

// CreationRequest provisions or promotes a tenant.
type CreationRequest struct {
	UserData TenantData `json:"user_data"`
}

// TenantData identifies the tenant to provision.
type TenantData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreationResponse returns the external id bound to the tenant.
type CreationResponse struct {
	CognitoID string `json:"cognito_id"`
}

// TenantInfoRequest lists external ids to resolve.
type TenantInfoRequest struct {
	TenantIDs []string `json:"tenant_ids"`
}

// TenantInfoResponse maps each known external id to [name, email].
type TenantInfoResponse map[string][2]string

// IDUpdate announces an external id change.
type IDUpdate struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// DeadLetter wraps a message that could not be processed.
type DeadLetter struct {
	Topic   string `json:"topic"`
	Key     string `json:"key,omitempty"`
	Payload string `json:"payload"`
	Error   string `json:"error"`
}

// Failure reasons reported in ValidationResponse.Error besides the
// token verification reasons.
const (
	ErrorMissingToken = "missing_token"
	ErrorKeyFetch     = "key_fetch_failed"
)
