package session

import (
	"context"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/codes"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

// Associations manages account association proposals.
type Associations struct {
	*Lifecycle[AccountAssociation]
	newCode CodeGenerator
}

// NewAssociations wires the association lifecycle. A nil newCode uses DefaultCodeGenerator.
func NewAssociations(store AssociationStore, hasher token.SecretHasher, policy Policy, now Clock, newCode CodeGenerator) *Associations {
	if newCode == nil {
		newCode = DefaultCodeGenerator
	}
	return &Associations{
		Lifecycle: NewLifecycle[AccountAssociation](store, hasher, policy, codes.AccountAssociationSessionPair, now),
		newCode:   newCode,
	}
}

// AssociationInput names the identity proposed for linking to UserID.
type AssociationInput struct {
	UserID         string
	Provider       identity.Provider
	ProviderUserID string
	Email          string
}

// IssuedAssociation is a created proposal and its client token.
type IssuedAssociation struct {
	Record AccountAssociation
	Token  string
}

// Create stores a new proposal with a fresh confirmation code.
func (a *Associations) Create(ctx context.Context, in AssociationInput) (IssuedAssociation, error) {
	code, err := a.newCode()
	if err != nil {
		return IssuedAssociation{}, err
	}
	rec, tok, err := a.Lifecycle.Create(ctx, func(c Credentials) AccountAssociation {
		return AccountAssociation{
			ID:             c.ID,
			UserID:         in.UserID,
			Provider:       in.Provider,
			ProviderUserID: in.ProviderUserID,
			Email:          identity.NormalizeEmail(in.Email),
			Code:           code,
			SecretHash:     c.SecretHash,
			ExpiresAt:      c.ExpiresAt,
		}
	})
	if err != nil {
		return IssuedAssociation{}, err
	}
	return IssuedAssociation{Record: rec, Token: tok}, nil
}

// CodeMatches compares code with the proposal's code in constant time.
func CodeMatches(rec AccountAssociation, code string) bool {
	return token.EqualString(code, rec.Code)
}
