package handler

import "reconciler/internal/identity/models"

// ContactResponse is the consolidated identity as rendered on the wire.
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

func toIdentifyResponse(view *models.IdentityView) IdentifyResponse {
	secondaries := make([]int64, 0, len(view.SecondaryContactIDs))
	for _, s := range view.SecondaryContactIDs {
		secondaries = append(secondaries, s.Int64())
	}
	return IdentifyResponse{Contact: ContactResponse{
		PrimaryContactID:    view.PrimaryContactID.Int64(),
		Emails:              nonNil(view.Emails),
		PhoneNumbers:        nonNil(view.PhoneNumbers),
		SecondaryContactIDs: secondaries,
	}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
