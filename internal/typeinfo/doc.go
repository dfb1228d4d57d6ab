// Package typeinfo describes compiled handler types without loading them.
//
// A Module is a flat catalog of TypeDefinitions keyed by full name. Each
// definition carries what static analysis needs: kind flags, the base type
// with its generic arguments, properties with accessor flags, annotations,
// and the decoded instruction stream of any method that must be inspected.
//
// Modules are produced by an external decompiler step and stored as CUE:
//
//	module: "Orders"
//	types: {
//		"Orders.OrderSaga": {
//			base_type: {full_name: "saga.Saga", generic_arguments: [{full_name: "Orders.OrderSagaData"}]}
//			methods: [{name: "ConfigureHowToFindSaga", instructions: [...]}]
//		}
//	}
//
// Nothing in this package executes or interprets the described code.
package typeinfo
