// Package testutil contains helper builders and recorders used across tests
// to reduce boilerplate when constructing connection records and asserting
// delivered messages or log output. They are not intended for production usage.
package testutil
