// Command matrixci runs CI workflows from the command line or serves
// them over HTTP.
package main

import "github.com/zacharyburnett/matrixci/cmd"

func main() {
	cmd.Execute()
}
