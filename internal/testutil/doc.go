// Package testutil provides fixtures shared by the package tests: a controllable
// clock, registered test clients and random values.
package testutil
