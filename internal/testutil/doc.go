// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when scripting model turns, constructing sessions and
// observing memory traffic. They are not intended for production usage.
package testutil
