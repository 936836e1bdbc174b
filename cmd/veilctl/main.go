// Command veilctl drives a ledger node: operator administration, provider
// submissions and aggregation requests.
package main

func main() {
	Execute()
}
