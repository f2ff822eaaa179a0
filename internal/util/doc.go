// Package util provides small helpers shared by the server, storage and HTTP layers.
package util
