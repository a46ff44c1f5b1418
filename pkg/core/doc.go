// Package core provides the domain models and interfaces shared by the
// production-queue scheduler packages.
//
// It contains no business logic: storage, scheduler and renumber depend on
// core, never on each other's concrete types.
package core
