// Package database provides connection pool management for PostgreSQL.
//
// The gateway keeps a single pool: currency code rows, account balances,
// and chat history live in the relational store. All domain writes happen
// from handler logic, never from the bus itself.
package database
