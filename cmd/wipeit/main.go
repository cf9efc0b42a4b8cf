// wipeit discovers and deletes cloud resources in one account and region,
// behind an itemized confirmation.
package main

func main() {
	Execute()
}
