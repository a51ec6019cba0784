// Package main provides the policywatch command: immigration policy
// collection, normalization and change detection.
package main

func main() {
	Execute()
}
