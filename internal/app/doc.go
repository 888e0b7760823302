// Package app wires the built-in event handlers onto the bus.
//
// Handlers are the business-logic edge: they read the relational store and
// respond through the bus's emit primitive. The bus has already validated
// the sending session before any handler runs; handlers only decide what a
// validated session is allowed to see.
package app
