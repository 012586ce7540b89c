package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
)

func TestFormatView(t *testing.T) {
	at := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	primary := func(contactID id.ContactID, email, phone string) *models.Contact {
		c := &models.Contact{ID: contactID, Role: models.RolePrimary, CreatedAt: at}
		if email != "" {
			c.Email = &email
		}
		if phone != "" {
			c.PhoneNumber = &phone
		}
		return c
	}
	secondary := func(contactID, rootID id.ContactID, email, phone string) *models.Contact {
		c := primary(contactID, email, phone)
		c.Role = models.RoleSecondary
		c.LinkedID = &rootID
		return c
	}
	deleted := secondary(9, 1, "gone@x.com", "")
	deleted.DeletedAt = &at

	tests := []struct {
		name    string
		set     []*models.Contact
		want    *models.IdentityView
		wantErr bool
	}{
		{
			name: "single primary",
			set:  []*models.Contact{primary(1, "a@x.com", "")},
			want: &models.IdentityView{
				PrimaryContactID:    1,
				Emails:              []string{"a@x.com"},
				PhoneNumbers:        []string{},
				SecondaryContactIDs: []id.ContactID{},
			},
		},
		{
			name: "deduplicates and sorts identifiers",
			set: []*models.Contact{
				secondary(5, 1, "b@x.com", "456"),
				primary(1, "a@x.com", "456"),
				secondary(3, 1, "a@x.com", "123"),
				deleted,
			},
			want: &models.IdentityView{
				PrimaryContactID:    1,
				Emails:              []string{"a@x.com", "b@x.com"},
				PhoneNumbers:        []string{"123", "456"},
				SecondaryContactIDs: []id.ContactID{3, 5},
			},
		},
		{
			name:    "no primary",
			set:     []*models.Contact{secondary(2, 1, "a@x.com", "")},
			wantErr: true,
		},
		{
			name:    "only a deleted primary",
			set:     []*models.Contact{func() *models.Contact { c := primary(1, "a@x.com", ""); c.DeletedAt = &at; return c }()},
			wantErr: true,
		},
		{
			name:    "two primaries",
			set:     []*models.Contact{primary(1, "a@x.com", ""), primary(2, "b@x.com", "")},
			wantErr: true,
		},
		{
			name:    "empty component",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := formatView(tt.set)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeDataIntegrity))
				assert.Nil(t, view)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, view)
			assert.NotContains(t, view.SecondaryContactIDs, view.PrimaryContactID)
		})
	}
}
