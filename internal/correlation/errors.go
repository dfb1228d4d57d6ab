package correlation

import (
	"errors"
	"fmt"

	"github.com/roach88/sqlpersistence/internal/sqlerr"
)

// Reason classifies why a saga type was rejected.
type Reason string

const (
	ReasonGeneric               Reason = "E201"
	ReasonAbstract              Reason = "E202"
	ReasonMissingProperty       Reason = "E203"
	ReasonNoSetter              Reason = "E204"
	ReasonSameProperty          Reason = "E205"
	ReasonUnsupportedType       Reason = "E206"
	ReasonBranching             Reason = "E207"
	ReasonUnexpectedInstruction Reason = "E208"
	ReasonNotDirectSaga         Reason = "E209"
	ReasonStateTypeNotFound     Reason = "E210"
	ReasonMultipleProperties    Reason = "E211"
	ReasonInvalidTableSuffix    Reason = "E212"
	ReasonTypeNotFound          Reason = "E213"
	ReasonMissingMethod         Reason = "E214"
	ReasonIncompleteMapping     Reason = "E215"
)

// ValidationError reports bad saga metadata for one type.
//
// It unwraps to sqlerr.ErrValidation.
type ValidationError struct {
	TypeName string `json:"type_name"`
	Reason   Reason `json:"reason"`
	Message  string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.TypeName == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Reason, e.TypeName, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return sqlerr.ErrValidation
}

func reject(typeName string, reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{TypeName: typeName, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the rejection reason of err, or "" if err is not a
// ValidationError.
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
