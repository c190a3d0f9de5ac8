// Command spp parses J48 tree dumps and explains student pass/fail
// predictions offline.
package main

func main() {
	Execute()
}
