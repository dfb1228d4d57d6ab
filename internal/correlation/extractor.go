package correlation

import (
	"log/slog"
	"strings"

	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

// Annotation argument names.
const (
	ArgCorrelationProperty             = "CorrelationProperty"
	ArgTransitionalCorrelationProperty = "TransitionalCorrelationProperty"
	ArgTableSuffix                     = "TableSuffix"
)

// invalidSuffixChars would break out of a quoted identifier in some dialect.
const invalidSuffixChars = "[]`\"'; \t\r\n"

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithVocabulary replaces the recognised framework member names.
func WithVocabulary(v Vocabulary) ExtractorOption {
	return func(e *Extractor) {
		e.vocab = v
	}
}

// WithLogger sets the logger used for per-type diagnostics.
func WithLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = l
	}
}

// Extractor produces Definitions from type descriptions.
// It is stateless and safe for concurrent use.
type Extractor struct {
	vocab  Vocabulary
	logger *slog.Logger
}

// NewExtractor creates an extractor with the default vocabulary.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		vocab:  DefaultVocabulary(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSaga reports whether t should be treated as a saga: it derives from the
// saga base type or carries the saga annotation.
func (e *Extractor) IsSaga(t *typeinfo.TypeDefinition) bool {
	if _, ok := t.Attribute(e.vocab.Annotation); ok {
		return true
	}
	return t.BaseType != nil && openTypeName(t.BaseType.FullName) == e.vocab.SagaBase
}

// ExtractAll extracts every saga in the module.
//
// Failures are collected per type rather than aborting the run. Definitions
// are returned in type name order.
func (e *Extractor) ExtractAll(module *typeinfo.Module) ([]Definition, []error) {
	var defs []Definition
	var errs []error
	for _, name := range module.Names() {
		t := module.Types[name]
		if !e.IsSaga(t) {
			continue
		}
		def, err := e.Extract(module, name)
		if err != nil {
			e.logger.Warn("saga rejected", "type", name, "error", err)
			errs = append(errs, err)
			continue
		}
		defs = append(defs, *def)
	}
	return defs, errs
}

// Extract builds the Definition for one saga type.
func (e *Extractor) Extract(module *typeinfo.Module, typeName string) (*Definition, error) {
	t, ok := module.Lookup(typeName)
	if !ok {
		return nil, reject(typeName, ReasonTypeNotFound, "type is not defined in module %s", module.Name)
	}
	if t.HasGenericParameters() {
		return nil, reject(typeName, ReasonGeneric, "saga types cannot be generic")
	}
	if t.Abstract {
		return nil, reject(typeName, ReasonAbstract, "saga types cannot be abstract")
	}

	state, err := e.stateType(module, t)
	if err != nil {
		return nil, err
	}

	annotation, _ := t.Attribute(e.vocab.Annotation)
	correlationName := annotation.Arg(ArgCorrelationProperty)
	transitionalName := annotation.Arg(ArgTransitionalCorrelationProperty)

	if correlationName == "" {
		correlationName, err = e.inferCorrelation(t)
		if err != nil {
			return nil, err
		}
	}

	def := &Definition{
		Name:        t.FullName,
		TableSuffix: annotation.Arg(ArgTableSuffix),
		StateType:   state.FullName,
	}
	if def.TableSuffix == "" {
		def.TableSuffix = t.ShortName()
	}
	if strings.ContainsAny(def.TableSuffix, invalidSuffixChars) {
		return nil, reject(typeName, ReasonInvalidTableSuffix,
			"table suffix %q contains invalid characters", def.TableSuffix)
	}

	if correlationName != "" {
		if def.Correlation, err = resolveProperty(typeName, state, correlationName); err != nil {
			return nil, err
		}
	}
	if transitionalName != "" {
		if def.Transitional, err = resolveProperty(typeName, state, transitionalName); err != nil {
			return nil, err
		}
	}
	if def.Correlation != nil && def.Transitional != nil && def.Correlation.Name == def.Transitional.Name {
		return nil, reject(typeName, ReasonSameProperty,
			"correlation and transitional correlation property are both %s", def.Correlation.Name)
	}

	e.logger.Debug("saga extracted",
		"type", def.Name,
		"table_suffix", def.TableSuffix,
		"correlation", correlationName,
		"transitional", transitionalName,
	)
	return def, nil
}

// stateType resolves the single generic argument of the direct saga base.
func (e *Extractor) stateType(module *typeinfo.Module, t *typeinfo.TypeDefinition) (*typeinfo.TypeDefinition, error) {
	base := t.BaseType
	if base == nil || openTypeName(base.FullName) != e.vocab.SagaBase || len(base.GenericArguments) != 1 {
		return nil, reject(t.FullName, ReasonNotDirectSaga,
			"saga types must directly derive from %s with a single state type argument", e.vocab.SagaBase)
	}
	stateName := base.GenericArguments[0].FullName
	state, ok := module.Lookup(stateName)
	if !ok {
		return nil, reject(t.FullName, ReasonStateTypeNotFound,
			"state type %s must be defined in module %s", stateName, module.Name)
	}
	return state, nil
}

func (e *Extractor) inferCorrelation(t *typeinfo.TypeDefinition) (string, error) {
	method, ok := t.Method(e.vocab.ConfigureMethod)
	if !ok {
		return "", reject(t.FullName, ReasonMissingMethod, "no %s method to analyze", e.vocab.ConfigureMethod)
	}
	expr, err := Analyze(t.FullName, method, e.vocab)
	if err != nil {
		return "", err
	}
	return expr.SagaProperty(), nil
}

func resolveProperty(typeName string, state *typeinfo.TypeDefinition, name string) (*Property, error) {
	p, ok := state.Property(name)
	if !ok {
		return nil, reject(typeName, ReasonMissingProperty, "state type %s has no property %s", state.FullName, name)
	}
	if !p.HasSetter {
		return nil, reject(typeName, ReasonNoSetter, "property %s.%s has no setter", state.FullName, name)
	}
	kind, ok := ParsePropertyType(p.Type)
	if !ok {
		return nil, reject(typeName, ReasonUnsupportedType,
			"property %s.%s has type %s, correlation properties must be one of %v",
			state.FullName, name, p.Type, PropertyTypes)
	}
	return &Property{Name: p.Name, Type: kind}, nil
}

// Catalog resolves definitions by saga name from a module on demand.
type Catalog struct {
	module    *typeinfo.Module
	extractor *Extractor
}

// NewCatalog creates a catalog over the given module.
func NewCatalog(module *typeinfo.Module, extractor *Extractor) *Catalog {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Catalog{module: module, extractor: extractor}
}

// Definition extracts the definition of the named saga.
func (c *Catalog) Definition(name string) (*Definition, error) {
	return c.extractor.Extract(c.module, name)
}
