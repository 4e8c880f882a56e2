// ABOUTME: Participant identity as a validated tagged union of customer or provider
// ABOUTME: Rejects both-set and neither-set identities at the ingestion boundary

package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Identity errors
var (
	ErrMissingIdentity   = errors.New("identity has neither customer nor provider id")
	ErrAmbiguousIdentity = errors.New("identity has both customer and provider id")
	ErrInvalidID         = errors.New("identity id must be positive")
	ErrUnknownKind       = errors.New("unknown identity kind")
)

// Kind tells which account type a Participant refers to.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindProvider Kind = "provider"
)

// Participant is exactly one of a customer account or a provider account.
// The fields are unexported so the only way to build a non-zero value is
// through the constructors below. Participants are comparable with ==.
type Participant struct {
	kind Kind
	id   int64
}

// Customer returns the identity of a customer account.
func Customer(id int64) Participant {
	return Participant{kind: KindCustomer, id: id}
}

// Provider returns the identity of a service-provider account.
func Provider(id int64) Participant {
	return Participant{kind: KindProvider, id: id}
}

// FromFields converts the wire representation (two optional sibling fields
// where exactly one must be set) into a Participant.
func FromFields(customerID, providerID *int64) (Participant, error) {
	switch {
	case customerID != nil && providerID != nil:
		return Participant{}, ErrAmbiguousIdentity
	case customerID != nil:
		return newChecked(KindCustomer, *customerID)
	case providerID != nil:
		return newChecked(KindProvider, *providerID)
	default:
		return Participant{}, ErrMissingIdentity
	}
}

// Parse reads the "kind:id" form produced by String, e.g. "customer:5".
func Parse(s string) (Participant, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Participant{}, fmt.Errorf("parsing identity %q: expected kind:id", s)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Participant{}, fmt.Errorf("parsing identity %q: %w", s, err)
	}
	switch Kind(kind) {
	case KindCustomer, KindProvider:
		return newChecked(Kind(kind), id)
	default:
		return Participant{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func newChecked(kind Kind, id int64) (Participant, error) {
	if id <= 0 {
		return Participant{}, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return Participant{kind: kind, id: id}, nil
}

// Kind returns the account type. The zero Participant has an empty kind.
func (p Participant) Kind() Kind { return p.kind }

// ID returns the account id within its kind.
func (p Participant) ID() int64 { return p.id }

// IsZero reports whether p is the zero value, which identifies nobody.
func (p Participant) IsZero() bool { return p.kind == "" }

// IsCustomer reports whether p is a customer account.
func (p Participant) IsCustomer() bool { return p.kind == KindCustomer }

// IsProvider reports whether p is a provider account.
func (p Participant) IsProvider() bool { return p.kind == KindProvider }

// Fields is the inverse of FromFields.
func (p Participant) Fields() (customerID, providerID *int64) {
	id := p.id
	switch p.kind {
	case KindCustomer:
		return &id, nil
	case KindProvider:
		return nil, &id
	}
	return nil, nil
}

// String renders the identity as "kind:id".
func (p Participant) String() string {
	if p.IsZero() {
		return "none"
	}
	return string(p.kind) + ":" + strconv.FormatInt(p.id, 10)
}
