// Sweeper - stale resource cleanup for AWS test accounts
// Find. Age. Terminate.
package main

func main() {
	Execute()
}
