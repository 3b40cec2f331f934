// Command pcapcatalog indexes packet capture files by protocol and serves
// searches over the index.
package main

import "github.com/Zerofisher/pcapcatalog/cmd"

func main() {
	cmd.Execute()
}
