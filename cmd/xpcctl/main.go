// Command xpcctl is the X-Plane Connect command line client.
package main

import "github.com/nasa/XPlaneConnect/internal/cli"

func main() {
	cli.Execute()
}
