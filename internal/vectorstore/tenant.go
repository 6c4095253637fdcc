package vectorstore

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/qdrant/go-client/qdrant"
)

const maxIDLen = 256

// ValidateTenantID fails closed: an empty tenant is ErrMissingTenant.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return ErrMissingTenant
	}
	return validateID("tenant id", tenantID)
}

// ValidateDocID checks a document identifier.
func ValidateDocID(docID string) error {
	if docID == "" {
		return fmt.Errorf("%w: doc id is required", ErrInvalidID)
	}
	return validateID("doc id", docID)
}

func validateID(name, id string) error {
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidID, name, maxIDLen)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidID, name)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidID, name)
		}
	}
	return nil
}

// scope is the tenant (and optional document) a read or delete is
// restricted to. Both backends derive their native filter from it.
type scope struct {
	tenantID string
	docID    string
}

func newScope(tenantID, docID string) (scope, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return scope{}, err
	}
	if docID != "" {
		if err := ValidateDocID(docID); err != nil {
			return scope{}, err
		}
	}
	return scope{tenantID: tenantID, docID: docID}, nil
}

// where returns the chromem metadata filter.
func (s scope) where() map[string]string {
	w := map[string]string{FieldTenantID: s.tenantID}
	if s.docID != "" {
		w[FieldDocID] = s.docID
	}
	return w
}

// qdrantFilter returns a Must filter of keyword matches.
func (s scope) qdrantFilter() *qdrant.Filter {
	must := []*qdrant.Condition{keywordCondition(FieldTenantID, s.tenantID)}
	if s.docID != "" {
		must = append(must, keywordCondition(FieldDocID, s.docID))
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
