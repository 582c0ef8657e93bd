package relay

import (
	"context"
	"strings"

	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
)

func (r *Relay) validateToken(ctx context.Context, msg bus.Message) (any, error) {
	var req ValidationRequest
	if err := bus.DecodeJSON(msg, &req); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.AccessToken) == "" {
		return ValidationResponse{Error: ErrorMissingToken}, nil
	}

	claims, err := r.verifier.Verify(ctx, req.AccessToken)
	if err != nil {
		switch {
		case users.IsKeyFetchError(err):
			r.logger.Error("validation request failed", "error", err)
			return ValidationResponse{Error: ErrorKeyFetch}, nil
		case users.IsTokenInvalid(err):
			reason := users.TokenInvalidReason(err)
			r.logger.Debug("validation request rejected", "reason", reason)
			return ValidationResponse{Error: reason}, nil
		default:
			return nil, err
		}
	}

	subject := claims.Subject
	return ValidationResponse{CognitoID: &subject}, nil
}

func (r *Relay) createUser(ctx context.Context, msg bus.Message) (any, error) {
	var req CreationRequest
	if err := bus.DecodeJSON(msg, &req); err != nil {
		return nil, err
	}

	user, err := r.provisioner.PromoteTenant(ctx, strings.TrimSpace(req.UserData.Name), req.UserData.Email)
	if err != nil {
		return nil, err
	}

	r.logger.Info("tenant provisioned", "user_id", user.ID, "cognito_id", user.ExternalID)
	return CreationResponse{CognitoID: user.ExternalID}, nil
}

func (r *Relay) getTenantsData(ctx context.Context, msg bus.Message) (any, error) {
	var req TenantInfoRequest
	if err := bus.DecodeJSON(msg, &req); err != nil {
		return nil, err
	}

	records, err := r.directory.ListByExternalIDs(ctx, req.TenantIDs)
	if err != nil {
		return nil, err
	}

	out := make(TenantInfoResponse, len(records))
	for _, u := range records {
		out[u.ExternalID] = [2]string{u.Name, u.Email}
	}

	for _, id := range req.TenantIDs {
		if _, ok := out[id]; !ok {
			r.logger.Warn("tenant not found", "cognito_id", id)
		}
	}

	return out, nil
}
