package repository

import (
	"fmt"
	"regexp"
	"strings"

	"go-audit-trail/internal/model"
)

var columnRefPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ExcludeDeletedClause returns a WHERE fragment that removes soft-deleted rows
// from a listing query over a business table. idColumn is the column holding
// the entity id (optionally qualified, e.g. "p.id") and argPos is the
// placeholder number the returned argument must be bound to.
//
//	clause, arg, err := repository.ExcludeDeletedClause("Product", "p.id", 1)
//	rows, err := pool.Query(ctx, "SELECT p.id, p.name FROM products p WHERE "+clause, arg)
func ExcludeDeletedClause(entityType string, idColumn string, argPos int) (string, any, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return "", nil, fmt.Errorf("%w: entity type is required", model.ErrInvalidInput)
	}
	if !columnRefPattern.MatchString(idColumn) {
		return "", nil, fmt.Errorf("%w: invalid id column %q", model.ErrInvalidInput, idColumn)
	}
	if argPos < 1 {
		return "", nil, fmt.Errorf("%w: placeholder position must be positive", model.ErrInvalidInput)
	}

	clause := fmt.Sprintf(`NOT EXISTS (
	SELECT 1 FROM audit_log d
	WHERE d.action = 'DELETE'
	  AND d.entity_type = $%d
	  AND d.entity_id = %s
	  AND %s)`, argPos, idColumn, outstandingDelete)

	return clause, entityType, nil
}
