// Package main is the entry point for creditgate.
package main

func main() {
	Execute()
}
