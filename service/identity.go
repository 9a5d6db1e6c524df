package service

import "go-admission-api/model"

// ResolveIdentity picks the rate-limit identity of a request. An
// authenticated owner is limited as a user, anyone else by source address.
func ResolveIdentity(ownerID, sourceIP, endpoint string) model.RateLimitKey {
	if ownerID != "" {
		return model.RateLimitKey{Kind: model.IdentityUser, Value: ownerID, Endpoint: endpoint}
	}
	return model.RateLimitKey{Kind: model.IdentityIP, Value: sourceIP, Endpoint: endpoint}
}
