package instrumented

import "github.com/martinohmann/eventual"

// Alias exported eventual package types to allow usage of the instrumented
// package as drop in replacement.
type (
	// State describes the lifecycle state of a promise.
	State = eventual.State

	// Value describes the value of a fulfilled promise.
	Value = eventual.Value

	// OnFulfilledFunc is used in promise fulfillment handlers.
	OnFulfilledFunc = eventual.OnFulfilledFunc

	// OnRejectedFunc is used in promise rejection handlers.
	OnRejectedFunc = eventual.OnRejectedFunc

	// ResolveFunc is passed as the first argument to a ResolutionFunc and may
	// be called by the producer to fulfill the promise with the provided
	// value, or to adopt another promise or thenable.
	ResolveFunc = eventual.ResolveFunc

	// RejectFunc is passed as the second argument to a ResolutionFunc and may
	// be called by the producer to reject the promise with the provided
	// reason.
	RejectFunc = eventual.RejectFunc

	// ResolutionFunc is the producer of a regular promise. It runs when the
	// promise is first driven.
	ResolutionFunc = eventual.ResolutionFunc

	// YieldFunc suspends a promise producer and hands a marker to the
	// current driver.
	YieldFunc = eventual.YieldFunc

	// GeneratorFunc is a promise producer with access to the driving
	// protocol.
	GeneratorFunc = eventual.GeneratorFunc

	// A Promise represents the eventual completion (or failure) of a
	// cooperatively driven operation, and its resulting value.
	Promise = eventual.Promise

	// A Thenable is a foreign promise-like value that can be adopted during
	// promise resolution.
	Thenable = eventual.Thenable

	// AggregateError is a collection of rejection reasons that are
	// aggregated in a single error.
	AggregateError = eventual.AggregateError

	// Result describes the outcome of a settled promise.
	Result = eventual.Result
)

// Alias exported eventual package variables to allow usage of the
// instrumented package as drop in replacement.
var (
	// ErrCircularResolutionChain is the error that a promise is rejected
	// with if a circular resolution dependency is detected, that is: an
	// attempt to resolve a promise with itself at arbitrary depth in the
	// chain.
	ErrCircularResolutionChain = eventual.ErrCircularResolutionChain

	// ErrClosing is delivered to a suspended producer whose promise is being
	// closed.
	ErrClosing = eventual.ErrClosing

	// Settle drives a promise until its producer terminates.
	Settle = eventual.Settle

	// Race returns a promise that fulfills or rejects as soon as one of the
	// promises in the passed slice fulfills or rejects, with the value or
	// reason from that promise.
	Race = eventual.Race

	// All returns a single promise that fulfills when all of the promises
	// passed as a slice have been fulfilled or when the slice contains no
	// promises. It rejects with the reason of the first promise that
	// rejects.
	All = eventual.All

	// Any takes a slice of promises and, as soon as one of the promises in
	// the slice fulfills, returns a single promise that resolves with the
	// value from that promise. If no promises in the slice fulfill, then the
	// returned promise is rejected with an AggregateError containing all
	// rejection reasons.
	Any = eventual.Any

	// AllSettled returns a promise that fulfills after all of the given
	// promises have been driven to an outcome, with a slice of Result values
	// that each describe the outcome of one promise.
	AllSettled = eventual.AllSettled
)
